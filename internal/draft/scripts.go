package draft

// editableTargetJS resolves the element that actually holds the text: the
// located element itself when editable, else its first editable descendant.
const editableTargetJS = `function answerbotTarget(root) {
  if (root.isContentEditable || root.tagName === 'TEXTAREA' || root.tagName === 'INPUT') return root;
  return root.querySelector('[contenteditable="true"], textarea, input') || root;
}`

const injectJS = `(function answerbotInject(css, text) {
  ` + editableTargetJS + `
  var root = document.querySelector(css);
  if (!root) return false;
  var target = answerbotTarget(root);
  target.focus();
  if (target.tagName === 'TEXTAREA' || target.tagName === 'INPUT') {
    var desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(target), 'value');
    if (desc && desc.set) { desc.set.call(target, text); } else { target.value = text; }
    target.dispatchEvent(new Event('input', { bubbles: true }));
    target.dispatchEvent(new Event('change', { bubbles: true }));
    return true;
  }
  var sel = window.getSelection();
  var range = document.createRange();
  range.selectNodeContents(target);
  sel.removeAllRanges();
  sel.addRange(range);
  document.execCommand('delete', false);
  if (!document.execCommand('insertText', false, text)) {
    target.textContent = text;
  }
  target.dispatchEvent(new InputEvent('input', { bubbles: true, inputType: 'insertText', data: text }));
  return true;
})(%q, %s)`

const textLengthJS = `(function answerbotTextLength(css) {
  ` + editableTargetJS + `
  var root = document.querySelector(css);
  if (!root) return 0;
  var target = answerbotTarget(root);
  var v = (target.tagName === 'TEXTAREA' || target.tagName === 'INPUT') ? target.value : (target.innerText || target.textContent || '');
  return v.trim().length;
})(%q)`

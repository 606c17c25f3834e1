package selector

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		css  string
		text string
	}{
		{name: "plain css", raw: ".RichText-editable", css: ".RichText-editable"},
		{name: "double quoted text", raw: `button:has-text("写回答")`, css: "button", text: "写回答"},
		{name: "single quoted text", raw: `a:has-text('保存草稿')`, css: "a", text: "保存草稿"},
		{name: "text only", raw: `:has-text("草稿")`, css: "*", text: "草稿"},
		{name: "attribute selector kept", raw: `[data-za-detail-view-element_name="写回答"]`, css: `[data-za-detail-view-element_name="写回答"]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Parse(tc.raw)
			assert.Equal(t, tc.css, s.CSS)
			assert.Equal(t, tc.text, s.Text)
			assert.Equal(t, tc.raw, s.String())
		})
	}
}

func TestCascadeFirstWins(t *testing.T) {
	html := `<div>
		<div class="a">1</div><div class="a">2</div><div class="a">3</div>
		<div class="b">only</div>
		<button>写回答</button><button>关注问题</button>
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	c := ParseAll([]string{".missing", ".a", ".b"})
	found, idx := c.First(doc.Selection)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 3, found.Length())

	c = ParseAll([]string{"", `button:has-text("写回答")`})
	found, idx = c.First(doc.Selection)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, found.Length())
	assert.Equal(t, "写回答", found.Text())

	_, idx = ParseAll([]string{".none", "[[invalid"}).First(doc.Selection)
	assert.Equal(t, -1, idx)
}

func TestJSQuotesArguments(t *testing.T) {
	js := Parse(`button:has-text("写回答")`).JS()
	assert.Contains(t, js, `__abFind("button", "写回答")`)
	assert.True(t, strings.HasPrefix(js, "(function(){"))
}

// Package draft writes answer text into the site's rich-text editor and
// leaves it for the site to save as a draft.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/selector"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

// Timing holds the waits of the draft flow.
type Timing struct {
	ButtonWait time.Duration
	AfterClick time.Duration
	EditorWait time.Duration
	AfterInput time.Duration
	AfterSave  time.Duration
	Autosave   time.Duration
}

// DefaultTiming matches how quickly the site reacts in practice.
func DefaultTiming() Timing {
	return Timing{
		ButtonWait: 2 * time.Second,
		AfterClick: 1500 * time.Millisecond,
		EditorWait: 3 * time.Second,
		AfterInput: 2 * time.Second,
		AfterSave:  3 * time.Second,
		Autosave:   5 * time.Second,
	}
}

// Options configures a Writer.
type Options struct {
	Site      config.SiteConfig
	Selectors config.SelectorConfig
	// Artifacts receives diagnostic screenshots. Nil disables them.
	Artifacts *writer.FileWriter
	Timing    *Timing
	Logger    *log.Logger
}

type strategy struct {
	name   string
	inject func(ctx context.Context, el browser.Element, text string) error
}

// Writer fills the compose surface of a question.
type Writer struct {
	page         browser.Page
	site         config.SiteConfig
	writeButtons selector.Cascade
	editors      selector.Cascade
	saveButtons  selector.Cascade
	artifacts    *writer.FileWriter
	timing       Timing
	strategies   []strategy
	log          *log.Logger
}

// New creates a Writer for page.
func New(page browser.Page, opts Options) *Writer {
	w := &Writer{
		page:         page,
		site:         opts.Site,
		writeButtons: selector.ParseAll(opts.Selectors.WriteAnswerButtons),
		editors:      selector.ParseAll(opts.Selectors.Editors),
		saveButtons:  selector.ParseAll(opts.Selectors.SaveDraftButtons),
		artifacts:    opts.Artifacts,
		timing:       DefaultTiming(),
		log:          opts.Logger,
	}
	if opts.Timing != nil {
		w.timing = *opts.Timing
	}
	if w.log == nil {
		w.log = log.Default()
	}
	w.strategies = []strategy{
		{name: "fill", inject: page.Fill},
		{name: "keyboard", inject: page.TypeText},
		{name: "script", inject: w.injectScript},
	}
	return w
}

// WriteDraft puts text into the editor of q and confirms it landed. It
// returns false for ordinary failures (no editor, text not accepted) and an
// error only when navigation or the engine fails.
func (w *Writer) WriteDraft(ctx context.Context, q *types.Question, text string) (bool, error) {
	logger := w.log.With("id", q.ID)
	if strings.TrimSpace(text) == "" {
		logger.Warn("Refusing to write an empty draft")
		return false, nil
	}

	if err := w.page.Navigate(ctx, q.URL); err != nil {
		return false, err
	}
	if err := w.openCompose(ctx, q, logger); err != nil {
		return false, err
	}

	editor, found, err := w.locateEditor(ctx, logger)
	if err != nil {
		return false, err
	}
	if !found {
		path := w.screenshot(ctx, "debug_editor_not_found", q.ID)
		logger.Error("Editor not found", "selectors", len(w.editors), "screenshot", path)
		return false, nil
	}
	logger.Debug("Editor located", "selector", editor.Source)

	used, length, attempted, err := w.inject(ctx, editor, text, logger)
	if err != nil {
		return false, err
	}
	if used == "" {
		label := "debug_editor_input_failed"
		if attempted {
			label = "debug_editor_text_empty"
		}
		path := w.screenshot(ctx, label, q.ID)
		logger.Error("Answer text did not land in the editor", "selector", editor.Source, "screenshot", path)
		return false, nil
	}
	logger.Info("Answer text entered", "strategy", used, "length", length)

	if err := browser.Sleep(ctx, w.timing.AfterInput); err != nil {
		return false, err
	}
	if err := w.saveDraft(ctx, logger); err != nil {
		return false, err
	}
	return true, nil
}

// openCompose tries the write-answer control and falls back to the compose
// URL when the click did not reach the compose surface.
func (w *Writer) openCompose(ctx context.Context, q *types.Question, logger *log.Logger) error {
	for _, sel := range w.writeButtons {
		el, found, err := w.page.Locate(ctx, sel, w.timing.ButtonWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("Write button probe failed", "selector", sel, "error", err)
			continue
		}
		if !found {
			continue
		}
		if err := w.page.Click(ctx, el); err != nil {
			logger.Debug("Write button click failed", "selector", sel, "error", err)
			continue
		}
		if err := browser.Sleep(ctx, w.timing.AfterClick); err != nil {
			return err
		}
		current, err := w.page.Location(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(current, "/write") {
			logger.Debug("Compose surface opened by button", "selector", sel)
			return nil
		}
		break
	}

	compose := w.site.ComposeURL(q.ID)
	logger.Debug("Opening compose URL directly", "url", compose)
	return w.page.Navigate(ctx, compose)
}

func (w *Writer) locateEditor(ctx context.Context, logger *log.Logger) (browser.Element, bool, error) {
	for _, sel := range w.editors {
		el, found, err := w.page.Locate(ctx, sel, w.timing.EditorWait)
		if err != nil {
			if ctx.Err() != nil {
				return browser.Element{}, false, ctx.Err()
			}
			logger.Debug("Editor probe failed", "selector", sel, "error", err)
			continue
		}
		if found {
			return el, true, nil
		}
	}
	return browser.Element{}, false, nil
}

// inject tries each strategy until one both succeeds and leaves non-empty
// text in the editor. attempted reports whether any strategy claimed success.
func (w *Writer) inject(ctx context.Context, el browser.Element, text string, logger *log.Logger) (used string, length int, attempted bool, err error) {
	for _, s := range w.strategies {
		if err := s.inject(ctx, el, text); err != nil {
			if ctx.Err() != nil {
				return "", 0, attempted, ctx.Err()
			}
			logger.Debug("Input strategy failed", "strategy", s.name, "error", err)
			continue
		}
		attempted = true

		n, err := w.textLength(ctx, el)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, attempted, ctx.Err()
			}
			logger.Debug("Could not read editor text", "strategy", s.name, "error", err)
			continue
		}
		if n == 0 {
			logger.Warn("Input strategy left the editor empty", "strategy", s.name)
			continue
		}
		return s.name, n, attempted, nil
	}
	return "", 0, attempted, nil
}

func (w *Writer) injectScript(ctx context.Context, el browser.Element, text string) error {
	encoded, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("failed to encode text: %w", err)
	}
	var ok bool
	if err := w.page.Evaluate(ctx, fmt.Sprintf(injectJS, el.CSS(), encoded), &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("editor vanished before script injection")
	}
	return nil
}

func (w *Writer) textLength(ctx context.Context, el browser.Element) (int, error) {
	var n int
	if err := w.page.Evaluate(ctx, fmt.Sprintf(textLengthJS, el.CSS()), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// saveDraft clicks an explicit save control when one is shown, otherwise
// waits for the site's autosave.
func (w *Writer) saveDraft(ctx context.Context, logger *log.Logger) error {
	for _, sel := range w.saveButtons {
		el, found, err := w.page.Locate(ctx, sel, w.timing.ButtonWait/2)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if !found {
			continue
		}
		if err := w.page.Click(ctx, el); err != nil {
			logger.Debug("Save button click failed", "selector", sel, "error", err)
			continue
		}
		logger.Info("Save draft clicked", "selector", sel)
		return browser.Sleep(ctx, w.timing.AfterSave)
	}

	logger.Info("No save button, waiting for autosave", "wait", w.timing.Autosave)
	return browser.Sleep(ctx, w.timing.Autosave)
}

func (w *Writer) screenshot(ctx context.Context, label, id string) string {
	if w.artifacts == nil {
		return ""
	}
	path := w.artifacts.Path(label+"_"+id, ".png")
	if err := w.page.Screenshot(ctx, path); err != nil {
		w.log.Debug("Screenshot failed", "path", path, "error", err)
		return ""
	}
	return path
}

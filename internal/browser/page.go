// Package browser is the single-page automation surface the pipeline drives.
// All page interaction goes through one Page owned by the run.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-scripts/answerbot/internal/selector"
)

// ErrNotFillable is returned by Fill when the element is not an input-like
// control that accepts a value.
var ErrNotFillable = errors.New("element does not accept a value")

// Cookie is a browser cookie in the form stored in the cookie file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Element is a located, visible element. Ref is the value of the
// data-answerbot-ref attribute stamped on it while locating.
type Element struct {
	Ref    string
	Source selector.Selector
}

// CSS returns a selector matching exactly this element.
func (e Element) CSS() string {
	return fmt.Sprintf(`[data-answerbot-ref=%q]`, e.Ref)
}

// Page is the capability surface of the automation engine.
type Page interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	// Exists reports whether any element matches sel right now.
	Exists(ctx context.Context, sel selector.Selector) (bool, error)
	// Locate waits up to timeout for a visible element matching sel.
	// Absence is reported as found=false, not as an error.
	Locate(ctx context.Context, sel selector.Selector, timeout time.Duration) (Element, bool, error)
	Click(ctx context.Context, el Element) error
	// Fill replaces the value of an input-like element.
	Fill(ctx context.Context, el Element, text string) error
	// TypeText focuses el, selects all, deletes, and inserts text as input.
	TypeText(ctx context.Context, el Element, text string) error
	// Evaluate runs script in the page and decodes its (awaited) result
	// into res. res may be nil.
	Evaluate(ctx context.Context, script string, res any) error
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package browsertest provides a scriptable in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/selector"
)

// Page is a fake browser.Page. Behavior is configured through the exported
// fields before use; interactions are recorded for assertions.
type Page struct {
	// HTMLByURL is the document served after navigating to a URL.
	HTMLByURL map[string]string
	// Redirects maps a requested URL to the URL the page lands on.
	Redirects map[string]string
	// NavErr fails navigation to a URL.
	NavErr map[string]error
	// Present answers Exists by raw selector.
	Present map[string]bool
	// Visible answers Locate by raw selector.
	Visible map[string]bool
	// ClickNavigates moves the page to a URL when the raw selector is clicked.
	ClickNavigates map[string]string
	ClickErr       error
	FillErr        error
	TypeErr        error
	// EvalFunc answers Evaluate. Its result is JSON round-tripped into res.
	EvalFunc func(script string) (any, error)
	Jar      []browser.Cookie

	mu          sync.Mutex
	url         string
	Navigations []string
	Clicks      []string
	Fills       []string
	Typed       []string
	Scripts     []string
	Screenshots []string
}

// New returns an empty fake page.
func New() *Page {
	return &Page{
		HTMLByURL:      map[string]string{},
		Redirects:      map[string]string{},
		NavErr:         map[string]error{},
		Present:        map[string]bool{},
		Visible:        map[string]bool{},
		ClickNavigates: map[string]string{},
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	if err := p.NavErr[url]; err != nil {
		return err
	}
	if to, ok := p.Redirects[url]; ok {
		url = to
	}
	p.url = url
	return nil
}

// SetURL moves the page without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTMLByURL[p.url], nil
}

func (p *Page) Exists(_ context.Context, sel selector.Selector) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Present[sel.Raw], nil
}

func (p *Page) Locate(ctx context.Context, sel selector.Selector, _ time.Duration) (browser.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return browser.Element{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Visible[sel.Raw] {
		return browser.Element{}, false, nil
	}
	return browser.Element{Ref: sel.Raw, Source: sel}, true, nil
}

func (p *Page) Click(_ context.Context, el browser.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicks = append(p.Clicks, el.Source.Raw)
	if p.ClickErr != nil {
		return p.ClickErr
	}
	if to, ok := p.ClickNavigates[el.Source.Raw]; ok {
		p.url = to
	}
	return nil
}

func (p *Page) Fill(_ context.Context, el browser.Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fills = append(p.Fills, el.Source.Raw)
	return p.FillErr
}

func (p *Page) TypeText(_ context.Context, el browser.Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed = append(p.Typed, el.Source.Raw)
	return p.TypeErr
}

func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Scripts = append(p.Scripts, script)
	fn := p.EvalFunc
	p.mu.Unlock()

	if fn == nil {
		return nil
	}
	v, err := fn(script)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fake evaluate: %w", err)
	}
	return json.Unmarshal(data, res)
}

func (p *Page) Screenshot(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *Page) Cookies(context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.Jar...), nil
}

func (p *Page) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Jar = append(p.Jar, cookies...)
	return nil
}

var _ browser.Page = (*Page)(nil)

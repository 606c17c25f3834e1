package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/selector"
)

const (
	actionTimeout = 30 * time.Second
	clickTimeout  = 10 * time.Second
)

// stealthJS runs before any page script on every new document.
const stealthJS = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['zh-CN', 'zh', 'en'] });
window.chrome = window.chrome || { runtime: {} };`

const locateJS = `(function(){ %s
var els = __abFind(%q, %q);
for (var i = 0; i < els.length; i++) {
  var e = els[i], r = e.getBoundingClientRect(), st = window.getComputedStyle(e);
  if (r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none') {
    var ref = e.getAttribute('data-answerbot-ref');
    if (!ref) {
      window.__abSeq = (window.__abSeq || 0) + 1;
      ref = String(window.__abSeq);
      e.setAttribute('data-answerbot-ref', ref);
    }
    return ref;
  }
}
return '';
})()`

const fillableJS = `(function(){
var e = document.querySelector(%q);
return !!e && (e.tagName === 'INPUT' || e.tagName === 'TEXTAREA');
})()`

const dispatchInputJS = `(function(){
var e = document.querySelector(%q);
if (!e) return false;
e.dispatchEvent(new Event('input', { bubbles: true }));
e.dispatchEvent(new Event('change', { bubbles: true }));
return true;
})()`

// Session is a Chrome tab driven through chromedp. Calls are serialized so
// only one operation touches the page at a time.
type Session struct {
	cfg         config.BrowserConfig
	log         *log.Logger
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	idle        *idleTracker
	mu          sync.Mutex
}

// Launch starts Chrome with the configured profile and hardening applied.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "zh-CN"),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.PersistentProfile && cfg.UserDataDir != "" {
		dir, err := filepath.Abs(cfg.UserDataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve profile dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create profile dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
		logger.Info("Using persistent browser profile", "dir", dir)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))
	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, idle.observe)

	// First Run starts the browser.
	err := chromedp.Run(tabCtx,
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
			return err
		}),
		emulation.SetTimezoneOverride("Asia/Shanghai"),
		emulation.SetLocaleOverride().WithLocale("zh-CN"),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Session{
		cfg:         cfg,
		log:         logger,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      cancel,
		idle:        idle,
	}, nil
}

// Close shuts the tab and the browser process.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// run executes actions on the tab under timeout. Cancelling ctx aborts them.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url, waits for the body and then for the network to go
// quiet, bounded by IdleTimeout. Settle is the minimum wait after the body
// is ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.log.Debug("Navigating", "url", url)
	var loader cdp.LoaderID
	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, id, errorText, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			loader = id
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	ready := time.Now()

	if err := s.waitIdle(ctx, loader); err != nil {
		return err
	}
	return Sleep(ctx, s.cfg.Settle-time.Since(ready))
}

// waitIdle blocks until loader reports networkIdle or IdleTimeout passes.
// Same-document navigations have no loader and return at once.
func (s *Session) waitIdle(ctx context.Context, loader cdp.LoaderID) error {
	if loader == "" || s.cfg.IdleTimeout <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.IdleTimeout)
	defer t.Stop()
	select {
	case <-s.idle.wait(loader):
		return nil
	case <-t.C:
		s.idle.forget(loader)
		s.log.Debug("Network did not go idle, continuing", "wait", s.cfg.IdleTimeout)
		return nil
	case <-ctx.Done():
		s.idle.forget(loader)
		return ctx.Err()
	}
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

func (s *Session) Exists(ctx context.Context, sel selector.Selector) (bool, error) {
	var ok bool
	if err := s.Evaluate(ctx, sel.JS()+".length > 0", &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Session) Locate(ctx context.Context, sel selector.Selector, timeout time.Duration) (Element, bool, error) {
	var ref string
	expr := fmt.Sprintf(locateJS, selector.FinderJS, sel.CSS, sel.Text)
	err := s.run(ctx, timeout+5*time.Second,
		chromedp.Poll(expr, &ref,
			chromedp.WithPollingInterval(100*time.Millisecond),
			chromedp.WithPollingTimeout(timeout),
		),
	)
	switch {
	case errors.Is(err, chromedp.ErrPollingTimeout):
		return Element{}, false, nil
	case err != nil:
		return Element{}, false, fmt.Errorf("failed to locate %s: %w", sel, err)
	case ref == "":
		return Element{}, false, nil
	}
	return Element{Ref: ref, Source: sel}, true, nil
}

func (s *Session) Click(ctx context.Context, el Element) error {
	css := el.CSS()
	if err := s.run(ctx, clickTimeout,
		chromedp.ScrollIntoView(css, chromedp.ByQuery),
		chromedp.Click(css, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("failed to click %s: %w", el.Source, err)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, el Element, text string) error {
	css := el.CSS()
	var fillable bool
	if err := s.Evaluate(ctx, fmt.Sprintf(fillableJS, css), &fillable); err != nil {
		return err
	}
	if !fillable {
		return ErrNotFillable
	}
	return s.run(ctx, actionTimeout,
		chromedp.SetValue(css, text, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(dispatchInputJS, css), nil),
	)
}

func (s *Session) TypeText(ctx context.Context, el Element, text string) error {
	css := el.CSS()
	return s.run(ctx, actionTimeout,
		chromedp.Focus(css, chromedp.ByQuery),
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(kb.Backspace),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
	)
}

func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	err := s.run(ctx, actionTimeout, chromedp.Evaluate(script, res,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, actionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}

func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (s *Session) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	err := s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

var _ Page = (*Session)(nil)

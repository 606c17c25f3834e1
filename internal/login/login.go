// Package login decides whether the browser session is authenticated and
// walks an operator through QR-code login when it is not.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/selector"
	"github.com/go-scripts/answerbot/internal/session"
)

var (
	// ErrLoginTimeout means the QR code was not scanned in time.
	ErrLoginTimeout = errors.New("login timed out")
	// ErrNotLoggedIn means the stored session is not authenticated.
	ErrNotLoggedIn = errors.New("not logged in")
)

const whoamiJS = `fetch(%q, {credentials: 'include', headers: {'X-Requested-With': 'fetch'}})
  .then(function (r) { return r.status; })
  .catch(function () { return 0; })`

// Options configures a Controller. Zero durations take defaults.
type Options struct {
	Site      config.SiteConfig
	Selectors config.SelectorConfig
	// Jar receives the cookies after a successful login.
	Jar        *session.Jar
	QRCodePath string

	PollInterval time.Duration
	NoticeEvery  time.Duration
	QRWait       time.Duration
	Logger       *log.Logger
}

// Controller checks and establishes login state on the shared page.
type Controller struct {
	page       browser.Page
	site       config.SiteConfig
	indicators selector.Cascade
	qrTabs     selector.Cascade
	qrCode     selector.Selector
	jar        *session.Jar
	qrPath     string
	poll       time.Duration
	notice     time.Duration
	qrWait     time.Duration
	log        *log.Logger
}

// New creates a Controller for page.
func New(page browser.Page, opts Options) *Controller {
	c := &Controller{
		page:       page,
		site:       opts.Site,
		indicators: selector.ParseAll(opts.Selectors.LoginIndicators),
		qrTabs:     selector.ParseAll(opts.Selectors.QRCodeTab),
		qrCode:     selector.Parse(strings.Join(opts.Selectors.QRCode, ", ")),
		jar:        opts.Jar,
		qrPath:     opts.QRCodePath,
		poll:       opts.PollInterval,
		notice:     opts.NoticeEvery,
		qrWait:     opts.QRWait,
		log:        opts.Logger,
	}
	if c.poll <= 0 {
		c.poll = time.Second
	}
	if c.notice <= 0 {
		c.notice = 5 * time.Second
	}
	if c.qrWait <= 0 {
		c.qrWait = 30 * time.Second
	}
	if c.qrPath == "" {
		c.qrPath = "qrcode.png"
	}
	if c.log == nil {
		c.log = log.Default()
	}
	return c
}

// IsLoggedIn runs the checks cheapest first and stops at the first that
// passes: a logged-in page element, the session cookie, then the whoami API.
// Probe errors count as a failed probe.
func (c *Controller) IsLoggedIn(ctx context.Context) bool {
	for _, sel := range c.indicators {
		ok, err := c.page.Exists(ctx, sel)
		if err != nil {
			c.log.Debug("Login indicator probe failed", "selector", sel, "error", err)
			continue
		}
		if ok {
			c.log.Debug("Logged in (page indicator)", "selector", sel)
			return true
		}
	}

	if cookies, err := c.page.Cookies(ctx); err != nil {
		c.log.Debug("Cookie probe failed", "error", err)
	} else if session.HasCookie(cookies, c.site.SessionCookie) {
		c.log.Debug("Logged in (session cookie)", "cookie", c.site.SessionCookie)
		return true
	}

	var status int
	if err := c.page.Evaluate(ctx, fmt.Sprintf(whoamiJS, c.site.URL(c.site.WhoamiPath)), &status); err != nil {
		c.log.Debug("Whoami probe failed", "error", err)
		return false
	}
	if status == 200 {
		c.log.Debug("Logged in (whoami)")
		return true
	}
	return false
}

// WaitForLogin polls IsLoggedIn until it passes or timeout elapses. A
// timeout returns false without error; only cancellation of ctx is an error.
func (c *Controller) WaitForLogin(ctx context.Context, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	start := time.Now()
	lastNotice := start
	for {
		if c.IsLoggedIn(waitCtx) {
			c.log.Info("Login confirmed", "waited", time.Since(start).Round(time.Second))
			return true, nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			c.log.Warn("Timed out waiting for login", "timeout", timeout)
			return false, nil
		case <-ticker.C:
		}

		if time.Since(lastNotice) < c.notice {
			continue
		}
		lastNotice = time.Now()
		current, _ := c.page.Location(waitCtx)
		if c.site.IsInterstitial(current) {
			c.log.Warn("Verification page detected, complete it in the browser window", "url", current)
			continue
		}
		c.log.Info("Waiting for login", "elapsed", time.Since(start).Round(time.Second), "timeout", timeout)
	}
}

// CheckLogin opens the site home page with the current session and reports
// whether it is authenticated.
func (c *Controller) CheckLogin(ctx context.Context) (bool, error) {
	if err := c.page.Navigate(ctx, c.site.URL("/")); err != nil {
		return false, err
	}
	ok := c.IsLoggedIn(ctx)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.log.Info("Login check", "logged_in", ok)
	return ok, nil
}

// QRLogin opens the sign-in page, captures the QR code to an image and waits
// up to timeout for the operator to scan it. Cookies are exported on success.
func (c *Controller) QRLogin(ctx context.Context, timeout time.Duration) error {
	if err := c.page.Navigate(ctx, c.site.URL(c.site.SigninPath)); err != nil {
		return err
	}

	for _, sel := range c.qrTabs {
		el, found, err := c.page.Locate(ctx, sel, 2*time.Second)
		if err != nil || !found {
			continue
		}
		if err := c.page.Click(ctx, el); err != nil {
			c.log.Debug("QR tab click failed", "selector", sel, "error", err)
			continue
		}
		c.log.Debug("Switched to QR login", "selector", sel)
		break
	}

	if _, found, err := c.page.Locate(ctx, c.qrCode, c.qrWait); err != nil {
		return err
	} else if !found {
		c.log.Warn("QR code element not detected, capturing the page anyway")
	}

	if err := c.page.Screenshot(ctx, c.qrPath); err != nil {
		c.log.Warn("Could not capture QR code", "error", err)
	} else {
		c.log.Info("Scan the QR code with the mobile app", "image", c.qrPath, "timeout", timeout)
	}

	ok, err := c.WaitForLogin(ctx, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoginTimeout
	}

	c.SaveSession(ctx)
	return nil
}

// EnsureLoggedIn checks the stored session and falls back to QR login.
func (c *Controller) EnsureLoggedIn(ctx context.Context, timeout time.Duration) error {
	ok, err := c.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if ok {
		c.SaveSession(ctx)
		return nil
	}
	return c.QRLogin(ctx, timeout)
}

// SaveSession exports the live cookies to the cookie file, if one is set.
func (c *Controller) SaveSession(ctx context.Context) {
	if c.jar == nil {
		return
	}
	n, err := c.jar.Export(ctx, c.page)
	if err != nil {
		c.log.Warn("Could not save cookies", "error", err)
		return
	}
	c.log.Info("Cookies saved", "count", n, "path", c.jar.Path())
}

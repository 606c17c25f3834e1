package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"

	"github.com/go-scripts/answerbot/internal/answer"
	"github.com/go-scripts/answerbot/internal/bot"
	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/crawler"
	"github.com/go-scripts/answerbot/internal/draft"
	"github.com/go-scripts/answerbot/internal/login"
	"github.com/go-scripts/answerbot/internal/metrics"
	"github.com/go-scripts/answerbot/internal/notify"
	"github.com/go-scripts/answerbot/internal/progress"
	"github.com/go-scripts/answerbot/internal/session"
	"github.com/go-scripts/answerbot/internal/store"
	"github.com/go-scripts/answerbot/internal/writer"
	"github.com/go-scripts/answerbot/ui"
)

// Globals are flags shared by every command
type Globals struct {
	Config string `help:"Path to configuration file" default:"config.yaml" short:"c" type:"path"`
	Debug  bool   `help:"Enable debug logging"`
}

type CLI struct {
	Globals

	Run        RunCmd        `cmd:"" default:"withargs" help:"Discover invitations and save answer drafts (default)"`
	Login      LoginCmd      `cmd:"" help:"Log in by scanning a QR code and store the session"`
	Check      CheckCmd      `cmd:"" help:"Report whether the stored session is logged in"`
	Cookies    CookiesCmd    `cmd:"" help:"Import or export the cookie file"`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write the default configuration file"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("answerbot"),
		kong.Description("Drafts answers for Zhihu question invitations."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// env is what every browser-driving command needs
type env struct {
	cfg     *config.Configuration
	log     *log.Logger
	logFile io.Closer
}

func (g *Globals) load() (*env, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.Run.ArtifactDir, cfg.Run.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(filepath.Join(cfg.Run.LogDir, "answerbot.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	level := log.InfoLevel
	if g.Debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(io.MultiWriter(os.Stderr, f), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
	})
	log.SetDefault(logger)

	return &env{cfg: cfg, log: logger, logFile: f}, nil
}

func (e *env) Close() {
	e.logFile.Close()
}

// launch starts the browser. Without a persistent profile the cookie file is
// the only carrier of the session, so it is loaded into the fresh browser.
func (e *env) launch(ctx context.Context) (*browser.Session, *session.Jar, error) {
	sess, err := browser.Launch(ctx, e.cfg.Browser, e.log)
	if err != nil {
		return nil, nil, err
	}
	jar := session.NewJar(e.cfg.Session.CookieFile)
	if !e.cfg.Browser.PersistentProfile {
		n, err := jar.Restore(ctx, sess)
		if err != nil {
			e.log.Warn("Could not restore cookies", "file", jar.Path(), "error", err)
		} else if n > 0 {
			e.log.Info("Restored cookies", "count", n, "file", jar.Path())
		}
	}
	return sess, jar, nil
}

func (e *env) loginController(page browser.Page, jar *session.Jar, artifacts *writer.FileWriter) *login.Controller {
	opts := login.Options{
		Site:      e.cfg.Site,
		Selectors: e.cfg.Selectors,
		Jar:       jar,
		Logger:    e.log,
	}
	if artifacts != nil {
		opts.QRCodePath = artifacts.Path("qrcode", ".png")
	}
	return login.New(page, opts)
}

type RunCmd struct {
	Headless            bool          `help:"Run the browser without a window"`
	Headed              bool          `help:"Run the browser with a window"`
	MaxQuestions        int           `help:"Draft at most N invitations (0 keeps the configured value)"`
	Generator           string        `help:"Answer generator: command or deep_research"`
	FlushInterval       time.Duration `help:"Rewrite answers_latest.json this often during research batches"`
	UserDataDir         string        `help:"Browser profile directory" type:"path"`
	NoPersistentProfile bool          `help:"Use a throwaway browser profile and the cookie file"`
}

// apply lets flags override the loaded configuration
func (c *RunCmd) apply(cfg *config.Configuration) error {
	switch {
	case c.Headless && c.Headed:
		return errors.New("--headless and --headed are mutually exclusive")
	case c.Headless:
		cfg.Browser.Headless = true
	case c.Headed:
		cfg.Browser.Headless = false
	}
	if c.MaxQuestions > 0 {
		cfg.Run.MaxQuestions = c.MaxQuestions
	}
	if c.Generator != "" {
		cfg.AnswerGenerator.Type = c.Generator
	}
	if c.FlushInterval > 0 {
		cfg.Run.FlushInterval = c.FlushInterval
	}
	if c.UserDataDir != "" {
		cfg.Browser.UserDataDir = c.UserDataDir
	}
	if c.NoPersistentProfile {
		cfg.Browser.PersistentProfile = false
	}
	return cfg.Validate()
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.Close()
	started := time.Now()
	notifier := notify.New(e.cfg.Notification.FeishuWebhook, e.log)

	// Every return before the bot runs reports through here so a scheduled
	// run that cannot start still sends its one notification.
	startupFailed := func(err error) error {
		e.log.Error("Run could not start", "error", err)
		summary := bot.StartupFailure(started, time.Now(), err)
		fmt.Println(ui.RenderSummary(summary, 0))
		if nerr := bot.Deliver(ctx, notifier, summary); nerr != nil {
			e.log.Warn("Could not send notification", "error", nerr)
		}
		return err
	}

	if err := c.apply(e.cfg); err != nil {
		return startupFailed(err)
	}
	cfg := e.cfg

	artifacts, err := writer.New(cfg.Run.ArtifactDir)
	if err != nil {
		return startupFailed(err)
	}
	gen, err := answer.New(answer.Options{
		Config:        cfg.AnswerGenerator,
		Artifacts:     artifacts,
		FlushInterval: cfg.Run.FlushInterval,
		Logger:        e.log,
	})
	if err != nil {
		return startupFailed(err)
	}
	st, err := store.Open(ctx, cfg.Session)
	if err != nil {
		return startupFailed(err)
	}
	defer st.Close()
	e.log.Info("Processed questions loaded", "backend", cfg.Session.Backend, "count", len(st.IDs()))

	sess, jar, err := e.launch(ctx)
	if err != nil {
		return startupFailed(err)
	}
	defer sess.Close()

	src, err := crawler.New(sess, crawler.Options{
		Site:      cfg.Site,
		Selectors: cfg.Selectors,
		Artifacts: artifacts,
		Logger:    e.log,
	})
	if err != nil {
		return startupFailed(err)
	}

	b := bot.New(bot.Deps{
		Login:     e.loginController(sess, jar, artifacts),
		Source:    src,
		Generator: gen,
		Drafts: draft.New(sess, draft.Options{
			Site:      cfg.Site,
			Selectors: cfg.Selectors,
			Artifacts: artifacts,
			Logger:    e.log,
		}),
		Store:     st,
		Artifacts: artifacts,
		Notifier:  notifier,
		Metrics:   metrics.New(),
		Progress:  progress.New(os.Stderr, isatty.IsTerminal(os.Stderr.Fd())),
		Logger:    e.log,
	}, bot.Settings{
		MaxQuestions: cfg.Run.MaxQuestions,
		ItemDelay:    cfg.Run.ItemDelay,
		DetailDelay:  cfg.Run.DetailDelay,
		MetricsPath:  cfg.Metrics.Textfile,
	})

	summary, runErr := b.Run(ctx)
	fmt.Println(ui.RenderSummary(summary, 0))

	if runErr == nil {
		if _, err := jar.Export(ctx, sess); err != nil {
			e.log.Warn("Could not export cookies", "error", err)
		}
	}
	return runErr
}

type LoginCmd struct {
	Timeout time.Duration `help:"How long to wait for the QR code scan (0 keeps the configured value)"`
	Headed  bool          `help:"Run the browser with a window" default:"true" negatable:""`
}

func (c *LoginCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.Close()
	e.cfg.Browser.Headless = !c.Headed
	timeout := e.cfg.Run.LoginTimeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}

	artifacts, err := writer.New(e.cfg.Run.ArtifactDir)
	if err != nil {
		return err
	}
	sess, jar, err := e.launch(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := e.loginController(sess, jar, artifacts).EnsureLoggedIn(ctx, timeout); err != nil {
		return err
	}
	e.log.Info("Logged in", "cookies", jar.Path())
	return nil
}

type CheckCmd struct{}

func (c *CheckCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.Close()

	sess, jar, err := e.launch(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	ok, err := e.loginController(sess, jar, nil).CheckLogin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not logged in")
		return login.ErrNotLoggedIn
	}
	n, err := jar.Export(ctx, sess)
	if err != nil {
		return err
	}
	fmt.Printf("logged in (%d cookies saved to %s)\n", n, jar.Path())
	return nil
}

type CookiesCmd struct {
	Import CookiesImportCmd `cmd:"" help:"Write a browser Cookie header string to the cookie file"`
	Export CookiesExportCmd `cmd:"" help:"Save the live browser cookies to the cookie file"`
}

type CookiesImportCmd struct {
	Header string `arg:"" help:"Cookie header, e.g. \"z_c0=...; d_c0=...\""`
}

func (c *CookiesImportCmd) Run(g *Globals) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.Close()

	cookies := session.ParseCookieHeader(c.Header, e.cfg.Site.CookieDomain)
	if len(cookies) == 0 {
		return errors.New("no cookies found in header")
	}
	if !session.HasCookie(cookies, e.cfg.Site.SessionCookie) {
		e.log.Warn("Header has no session cookie, login will likely fail", "cookie", e.cfg.Site.SessionCookie)
	}
	jar := session.NewJar(e.cfg.Session.CookieFile)
	if err := jar.Save(cookies); err != nil {
		return err
	}
	fmt.Printf("imported %d cookies into %s\n", len(cookies), jar.Path())
	return nil
}

type CookiesExportCmd struct{}

func (c *CookiesExportCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.Close()

	sess, jar, err := e.launch(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, e.cfg.Site.URL("/")); err != nil {
		return err
	}
	n, err := jar.Export(ctx, sess)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d cookies to %s\n", n, jar.Path())
	return nil
}

type InitConfigCmd struct{}

func (c *InitConfigCmd) Run(g *Globals) error {
	written, err := config.WriteDefault(g.Config)
	if err != nil {
		return err
	}
	if !written {
		fmt.Printf("%s already exists, leaving it unchanged\n", g.Config)
		return nil
	}
	fmt.Printf("wrote %s\n", g.Config)
	return nil
}

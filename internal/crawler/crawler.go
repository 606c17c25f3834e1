// Package crawler reads the notifications feed and question pages.
package crawler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/selector"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

// Options configures a Crawler.
type Options struct {
	Site      config.SiteConfig
	Selectors config.SelectorConfig
	// Artifacts receives debug_notifications.html when set.
	Artifacts *writer.FileWriter
	Logger    *log.Logger
}

// Crawler drives the shared page through the feed and question pages.
type Crawler struct {
	page      browser.Page
	site      config.SiteConfig
	extractor *Extractor
	content   selector.Cascade
	title     selector.Cascade
	artifacts *writer.FileWriter
	log       *log.Logger
}

// New creates a new Crawler instance
func New(page browser.Page, opts Options) (*Crawler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	base, err := url.Parse(opts.Site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	sel := opts.Selectors
	return &Crawler{
		page: page,
		site: opts.Site,
		extractor: &Extractor{
			Base:        base,
			Items:       selector.ParseAll(sel.NotificationItems),
			Links:       selector.ParseAll(sel.QuestionLinks),
			Inviter:     selector.ParseAll(sel.Inviter),
			InvitedAt:   selector.ParseAll(sel.InvitedAt),
			Keywords:    sel.InvitationKeywords,
			QuestionURL: opts.Site.QuestionURL,
			Log:         logger,
		},
		content:   selector.ParseAll(sel.QuestionContent),
		title:     selector.ParseAll(sel.QuestionTitle),
		artifacts: opts.Artifacts,
		log:       logger,
	}, nil
}

// ListInvitations loads the notifications feed and returns the new
// invitations in feed order. Only navigation or engine failures are errors.
func (c *Crawler) ListInvitations(ctx context.Context, seen Seen) ([]types.Invitation, error) {
	target := c.site.URL(c.site.NotificationsPath)
	c.log.Info("Loading notifications", "url", target)
	if err := c.page.Navigate(ctx, target); err != nil {
		return nil, err
	}

	current, err := c.page.Location(ctx)
	if err != nil {
		return nil, err
	}
	if c.site.IsInterstitial(current) {
		c.log.Warn("Verification page shown instead of notifications, manual check needed", "url", current)
		return nil, nil
	}

	html, err := c.page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if c.artifacts != nil {
		if path, err := c.artifacts.WriteFile("debug_notifications.html", []byte(html)); err != nil {
			c.log.Debug("Could not save notifications html", "error", err)
		} else {
			c.log.Debug("Saved notifications html", "path", path)
		}
	}

	invitations, err := c.extractor.Parse(html, seen)
	if err != nil {
		return nil, err
	}
	c.log.Info("Invitations found", "count", len(invitations))
	return invitations, nil
}

// FetchDetail loads the question page and sets q.Content. A page with no
// recognizable content leaves it empty. A placeholder title is replaced by
// the page heading when one is found.
func (c *Crawler) FetchDetail(ctx context.Context, q *types.Question) (string, error) {
	if err := c.page.Navigate(ctx, q.URL); err != nil {
		return "", err
	}
	html, err := c.page.HTML(ctx)
	if err != nil {
		return "", err
	}

	d, err := ParseDetail(html, c.content, c.title)
	if err != nil {
		return "", err
	}
	if (q.Title == "" || q.Title == DefaultTitle) && d.Title != "" {
		q.Title = d.Title
	}
	q.Content = d.Content
	if d.Content == "" {
		c.log.Debug("No question content found", "id", q.ID)
	}
	return d.Content, nil
}

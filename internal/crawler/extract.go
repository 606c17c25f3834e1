package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/queue"
	"github.com/go-scripts/answerbot/internal/selector"
	"github.com/go-scripts/answerbot/internal/textutil"
	"github.com/go-scripts/answerbot/internal/types"
)

// DefaultTitle is used when a question link has no text.
const DefaultTitle = "无标题"

var questionIDRe = regexp.MustCompile(`/question/(\d+)`)

var (
	errNotInvitation = errors.New("not an invitation")
	errNoLink        = errors.New("no question link")
	errNoQuestionID  = errors.New("link has no question id")
)

// Seen reports question ids that were already handled in earlier runs.
type Seen interface {
	Has(id string) bool
}

// QuestionID extracts the numeric question id from a URL or path, or "".
func QuestionID(href string) string {
	path := href
	if u, err := url.Parse(href); err == nil {
		path = u.Path
	}
	m := questionIDRe.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// Extractor turns a rendered notifications feed into invitations.
type Extractor struct {
	Base      *url.URL
	Items     selector.Cascade
	Links     selector.Cascade
	Inviter   selector.Cascade
	InvitedAt selector.Cascade
	Keywords  []string
	// QuestionURL derives the canonical URL from an id.
	QuestionURL func(id string) string
	Log         *log.Logger
}

// Parse scans html in feed order. The first item selector that matches
// anything is used alone. Items that are not invitations, lack a usable
// question link, repeat an earlier id, or are in seen are skipped.
func (e *Extractor) Parse(html string, seen Seen) ([]types.Invitation, error) {
	logger := e.Log
	if logger == nil {
		logger = log.Default()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse notifications html: %w", err)
	}

	items, idx := e.Items.First(doc.Selection)
	if idx < 0 {
		logger.Info("No notification items matched any selector")
		return nil, nil
	}
	logger.Debug("Notification items found", "selector", e.Items[idx], "count", items.Length())

	pass := queue.New(func(inv types.Invitation) string { return inv.Question.ID })
	items.Each(func(i int, item *goquery.Selection) {
		inv, err := e.parseItem(item)
		if err != nil {
			logger.Debug("Skipping notification item", "index", i, "reason", err)
			return
		}
		if !pass.Add(inv) {
			logger.Debug("Skipping duplicate invitation", "id", inv.Question.ID)
			return
		}
	})

	var out []types.Invitation
	for _, inv := range pass.Items() {
		if seen != nil && seen.Has(inv.Question.ID) {
			logger.Debug("Skipping processed invitation", "id", inv.Question.ID)
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (e *Extractor) parseItem(item *goquery.Selection) (types.Invitation, error) {
	text := item.Text()
	if !textutil.ContainsAny(text, e.Keywords) {
		return types.Invitation{}, errNotInvitation
	}

	links, li := e.Links.First(item)
	if li < 0 {
		return types.Invitation{}, errNoLink
	}
	link := links.First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return types.Invitation{}, errNoLink
	}

	abs, err := e.resolve(href)
	if err != nil {
		return types.Invitation{}, fmt.Errorf("bad href %q: %w", href, err)
	}
	id := QuestionID(abs)
	if id == "" {
		return types.Invitation{}, fmt.Errorf("%w: %s", errNoQuestionID, abs)
	}

	title := strings.TrimSpace(link.Text())
	if title == "" {
		title = DefaultTitle
	}

	return types.Invitation{
		Question: &types.Question{
			ID:    id,
			Title: title,
			URL:   e.QuestionURL(id),
		},
		Inviter:   e.inviter(item),
		InvitedAt: e.invitedAt(item),
	}, nil
}

func (e *Extractor) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if e.Base == nil {
		return ref.String(), nil
	}
	return e.Base.ResolveReference(ref).String(), nil
}

func (e *Extractor) inviter(item *goquery.Selection) string {
	found, idx := e.Inviter.First(item)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(found.First().Text())
}

func (e *Extractor) invitedAt(item *goquery.Selection) string {
	found, idx := e.InvitedAt.First(item)
	if idx < 0 {
		return ""
	}
	el := found.First()
	if dt, ok := el.Attr("datetime"); ok && dt != "" {
		return dt
	}
	return strings.TrimSpace(el.Text())
}

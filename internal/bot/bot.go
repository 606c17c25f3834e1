// Package bot sequences one run: login gate, feed extraction, question
// details, batch answer generation, and draft writing.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/go-scripts/answerbot/internal/answer"
	"github.com/go-scripts/answerbot/internal/browser"
	"github.com/go-scripts/answerbot/internal/crawler"
	"github.com/go-scripts/answerbot/internal/login"
	"github.com/go-scripts/answerbot/internal/metrics"
	"github.com/go-scripts/answerbot/internal/notify"
	"github.com/go-scripts/answerbot/internal/progress"
	"github.com/go-scripts/answerbot/internal/store"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

// notifyTimeout bounds the final notification, which is sent even after
// the run context was cancelled.
const notifyTimeout = 15 * time.Second

// LoginGate confirms the session is authenticated.
type LoginGate interface {
	CheckLogin(ctx context.Context) (bool, error)
}

// Source reads invitations and question details from the site.
type Source interface {
	ListInvitations(ctx context.Context, seen crawler.Seen) ([]types.Invitation, error)
	FetchDetail(ctx context.Context, q *types.Question) (string, error)
}

// Drafter writes one answer into the site's editor.
type Drafter interface {
	WriteDraft(ctx context.Context, q *types.Question, text string) (bool, error)
}

// Deps are the collaborators of a run. Metrics and Progress are optional.
type Deps struct {
	Login     LoginGate
	Source    Source
	Generator answer.Generator
	Drafts    Drafter
	Store     store.Store
	Artifacts *writer.FileWriter
	Notifier  notify.Notifier
	Metrics   *metrics.Recorder
	Progress  *progress.ProgressTracker
	Logger    *log.Logger
}

// Settings tune pacing and scope.
type Settings struct {
	MaxQuestions int
	ItemDelay    time.Duration
	DetailDelay  time.Duration
	MetricsPath  string
}

// Bot runs the pipeline. It is the only user of the page during a run.
type Bot struct {
	deps     Deps
	settings Settings
	log      *log.Logger
	now      func() time.Time
}

// New creates a Bot.
func New(deps Deps, settings Settings) *Bot {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Progress == nil {
		deps.Progress = progress.New(nil, false)
	}
	return &Bot{deps: deps, settings: settings, log: deps.Logger, now: time.Now}
}

// run accumulates the outcome while the pipeline executes.
type run struct {
	summary Summary
	log     *log.Logger
}

func (r *run) enter(s State) {
	r.summary.State = s
	r.log.Debug("Run state", "state", s)
}

func (r *run) fail(stage, title string, status int) {
	r.summary.Failures = append(r.summary.Failures, types.Failure{Stage: stage, Title: title, Status: status})
}

// Run executes one pass. The summary is always returned and always
// notified. The error is non-nil when the run stopped early: not logged in,
// cancelled, or a navigation/engine failure.
func (b *Bot) Run(ctx context.Context) (*Summary, error) {
	id := uuid.NewString()
	r := &run{
		summary: Summary{
			ID:        id,
			Started:   b.now(),
			Mode:      b.deps.Generator.Name(),
			Artifacts: map[string]string{},
		},
		log: b.log.With("run", id[:8]),
	}
	r.log.Info("Run started", "mode", r.summary.Mode)

	err := b.pipeline(ctx, r)
	switch {
	case err == nil:
		r.enter(StateDone)
	case errors.Is(err, login.ErrNotLoggedIn):
		r.enter(StateFailed)
	default:
		r.log.Error("Run aborted", "state", r.summary.State, "error", err)
		r.fail(types.StageRun, err.Error(), 0)
		r.enter(StateFailed)
	}
	r.summary.Ended = b.now()

	summary := r.summary
	b.finish(ctx, &summary)
	r.log.Info("Run finished",
		"state", summary.State,
		"selected", summary.Selected,
		"drafted", summary.DraftSavedOK,
		"failures", len(summary.Failures),
		"elapsed", summary.Ended.Sub(summary.Started).Round(time.Second))
	return &summary, err
}

func (b *Bot) pipeline(ctx context.Context, r *run) error {
	r.enter(StateNotLoggedIn)
	ok, err := b.deps.Login.CheckLogin(ctx)
	if err != nil {
		return fmt.Errorf("login check: %w", err)
	}
	if !ok {
		r.summary.Mode = types.ModeNotLoggedIn
		r.fail(types.StageLogin, "session is not logged in, run the login command", 0)
		r.log.Error("Not logged in, stopping run")
		return login.ErrNotLoggedIn
	}

	r.enter(StateExtracting)
	invitations, err := b.deps.Source.ListInvitations(ctx, b.deps.Store)
	if err != nil {
		return fmt.Errorf("list invitations: %w", err)
	}
	if limit := b.settings.MaxQuestions; limit > 0 && len(invitations) > limit {
		r.log.Info("Capping invitations for this run", "found", len(invitations), "max", limit)
		invitations = invitations[:limit]
	}
	r.summary.Selected = len(invitations)
	if len(invitations) == 0 {
		r.log.Info("No new invitations")
		return nil
	}

	r.enter(StateDetailing)
	if err := b.fetchDetails(ctx, r, invitations); err != nil {
		return err
	}

	r.enter(StateGenerating)
	answers, err := b.generate(ctx, r, invitations)
	if err != nil {
		return err
	}

	r.enter(StateDrafting)
	return b.draft(ctx, r, invitations, answers)
}

func (b *Bot) fetchDetails(ctx context.Context, r *run, invitations []types.Invitation) error {
	b.deps.Progress.StartStage("Details", len(invitations))
	for i, inv := range invitations {
		if _, err := b.deps.Source.FetchDetail(ctx, inv.Question); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("Question detail unavailable, continuing without it", "id", inv.Question.ID, "error", err)
		}
		b.deps.Progress.Increment(inv.Question.ID)
		if i < len(invitations)-1 {
			if err := browser.Sleep(ctx, b.settings.DetailDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bot) generate(ctx context.Context, r *run, invitations []types.Invitation) (map[string]string, error) {
	records := make([]types.InvitationRecord, 0, len(invitations))
	for _, inv := range invitations {
		records = append(records, inv.Record())
	}
	if b.deps.Artifacts != nil {
		path, err := b.deps.Artifacts.WriteBatch("invitations", records)
		if err != nil {
			r.log.Error("Could not write invitations artifact", "error", err)
		} else {
			r.summary.Artifacts["invitations"] = path
		}
	}

	stop := b.deps.Progress.Spin(fmt.Sprintf("Generating %d answers (%s)", len(invitations), b.deps.Generator.Name()))
	answers, err := b.deps.Generator.GenerateBatch(ctx, invitations)
	stop()

	if rep, ok := b.deps.Generator.(answer.Reporter); ok {
		if path := rep.LastArtifact(); path != "" {
			r.summary.Artifacts["answers"] = path
		}
	}
	if err != nil {
		return nil, fmt.Errorf("generate answers: %w", err)
	}
	return answers, nil
}

func (b *Bot) draft(ctx context.Context, r *run, invitations []types.Invitation, answers map[string]string) error {
	statuses := map[string]int{}
	if rep, ok := b.deps.Generator.(answer.Reporter); ok {
		for _, res := range rep.LastResults() {
			statuses[res.QuestionID] = res.Status
		}
	}

	b.deps.Progress.StartStage("Drafting", len(invitations))
	for i, inv := range invitations {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := inv.Question
		text := answers[q.ID]

		if strings.TrimSpace(text) == "" {
			r.log.Error("No answer generated, skipping draft", "id", q.ID, "title", q.Title)
			r.fail(types.StageGenerate, q.Title, statuses[q.ID])
		} else {
			ok, err := b.deps.Drafts.WriteDraft(ctx, q, text)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Error("Draft write failed", "id", q.ID, "error", err)
				r.fail(types.StageDraft, q.Title, 0)
			case ok:
				if err := b.deps.Store.Add(context.WithoutCancel(ctx), q.ID); err != nil {
					r.log.Error("Draft saved but could not record it as processed", "id", q.ID, "error", err)
				}
				r.summary.DraftSavedOK++
				r.log.Info("Draft saved", "id", q.ID, "title", q.Title)
			default:
				r.fail(types.StageDraft, q.Title, 0)
			}
		}

		b.deps.Progress.Increment(q.ID)
		if i < len(invitations)-1 {
			if err := browser.Sleep(ctx, b.settings.ItemDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish notifies and records metrics. It runs even when ctx is done.
func (b *Bot) finish(ctx context.Context, s *Summary) {
	if err := Deliver(ctx, b.deps.Notifier, s); err != nil {
		b.log.Warn("Could not send notification", "error", err)
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.Observe(metrics.Run{
			Mode:     s.Mode,
			Selected: s.Selected,
			Drafted:  s.DraftSavedOK,
			Failures: s.Failures,
			Started:  s.Started,
			Ended:    s.Ended,
		})
		if b.settings.MetricsPath != "" {
			if err := b.deps.Metrics.WriteTextfile(b.settings.MetricsPath); err != nil {
				b.log.Warn("Could not write metrics", "error", err)
			}
		}
	}
}

// StartupFailure is the summary of a run that failed before the pipeline
// started, e.g. the browser or the store could not be opened.
func StartupFailure(started, ended time.Time, err error) *Summary {
	return &Summary{
		ID:        uuid.NewString(),
		Started:   started,
		Ended:     ended,
		Mode:      types.ModeStartup,
		State:     StateFailed,
		Failures:  []types.Failure{{Stage: types.StageRun, Title: err.Error()}},
		Artifacts: map[string]string{},
	}
}

// Deliver sends the summary through n. It is detached from ctx
// cancellation and bounded by its own timeout. A nil n is a no-op.
func Deliver(ctx context.Context, n notify.Notifier, s *Summary) error {
	if n == nil {
		return nil
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	return n.Notify(notifyCtx, s.Text())
}

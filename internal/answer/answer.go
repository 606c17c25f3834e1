// Package answer produces answer text for a batch of invitations.
package answer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/textutil"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

// Generator turns a batch of invitations into answers keyed by question id.
// The returned map has exactly one entry per input id; a failed item maps to
// "". The error is non-nil only when ctx ended before the batch finished.
type Generator interface {
	Name() string
	GenerateBatch(ctx context.Context, invitations []types.Invitation) (map[string]string, error)
}

// Reporter is implemented by generators that keep per-item results of the
// latest batch.
type Reporter interface {
	LastResults() []types.AnswerResult
	LastArtifact() string
}

// Options configures New.
type Options struct {
	Config config.GeneratorConfig
	// Artifacts receives the research results audit trail.
	Artifacts *writer.FileWriter
	// FlushInterval rewrites answers_latest.json while a research batch
	// is running. Zero disables it.
	FlushInterval time.Duration
	HTTPClient    *http.Client
	Logger        *log.Logger
}

// New builds the generator selected by opts.Config.Type. Configuration
// errors surface here, before any browser work starts.
func New(opts Options) (Generator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	switch opts.Config.Type {
	case config.GeneratorCommand, "":
		return NewCommand(opts.Config.Command, time.Duration(opts.Config.CommandTimeoutSeconds)*time.Second, logger), nil
	case config.GeneratorDeepResearch:
		dr := opts.Config.DeepResearch
		token := ResolveToken(dr)
		if dr.Endpoint == "" {
			return nil, fmt.Errorf("%w: answer_generator.deep_research.endpoint is empty", config.ErrInvalid)
		}
		if token == "" {
			return nil, fmt.Errorf("%w: no research token in $%s or answer_generator.deep_research.token", config.ErrInvalid, dr.TokenEnv)
		}
		return NewResearch(ResearchOptions{
			Endpoint:      dr.Endpoint,
			Token:         token,
			Timeout:       time.Duration(dr.TimeoutSeconds) * time.Second,
			Concurrency:   dr.Concurrency,
			AnswerField:   dr.AnswerField,
			Artifacts:     opts.Artifacts,
			FlushInterval: opts.FlushInterval,
			Client:        opts.HTTPClient,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown generator type %q", config.ErrInvalid, opts.Config.Type)
	}
}

// Placeholder is the answer used when no generation tool is configured. It
// is clearly marked as a test answer.
func Placeholder(title string) string {
	return fmt.Sprintf("这是一个关于「%s」的测试回答。请配置实际工具。", textutil.Truncate(title, 50))
}

// emptyAnswers returns a map with an empty answer for every invitation.
func emptyAnswers(invitations []types.Invitation) map[string]string {
	answers := make(map[string]string, len(invitations))
	for _, inv := range invitations {
		answers[inv.Question.ID] = ""
	}
	return answers
}

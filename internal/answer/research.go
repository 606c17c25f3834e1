package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/answerbot/internal/config"
	"github.com/go-scripts/answerbot/internal/textutil"
	"github.com/go-scripts/answerbot/internal/types"
	"github.com/go-scripts/answerbot/internal/writer"
)

// TextPrefixLength is how much of each raw reply is kept for diagnostics.
const TextPrefixLength = 800

// HTTPError is returned when the research service answers with a non-200
// status.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("research request to %s returned status %d", e.URL, e.StatusCode)
}

// ResolveToken returns the token from the configured environment variable,
// falling back to the literal token.
func ResolveToken(cfg config.DeepResearchConfig) string {
	if cfg.TokenEnv != "" {
		if v := strings.TrimSpace(os.Getenv(cfg.TokenEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(cfg.Token)
}

type researchRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
	Token   string `json:"token"`
}

// ResearchOptions configures a ResearchGenerator. Zero values take defaults.
type ResearchOptions struct {
	Endpoint      string
	Token         string
	Timeout       time.Duration
	Concurrency   int
	AnswerField   string
	Artifacts     *writer.FileWriter
	FlushInterval time.Duration
	Client        *http.Client
	Logger        *log.Logger
}

// ResearchGenerator calls the remote research service for every question,
// with at most Concurrency requests in flight, and waits for all of them.
type ResearchGenerator struct {
	opts   ResearchOptions
	client *http.Client
	log    *log.Logger

	mu       sync.Mutex
	last     []types.AnswerResult
	artifact string
}

// NewResearch creates a ResearchGenerator.
func NewResearch(opts ResearchOptions) *ResearchGenerator {
	if opts.Timeout <= 0 {
		opts.Timeout = 650 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.AnswerField == "" {
		opts.AnswerField = "text_report"
	}
	client := opts.Client
	if client == nil {
		// Per-request deadlines come from the context.
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ResearchGenerator{opts: opts, client: client, log: logger}
}

func (g *ResearchGenerator) Name() string { return "deep_research" }

func (g *ResearchGenerator) GenerateBatch(ctx context.Context, invitations []types.Invitation) (map[string]string, error) {
	results := make([]types.AnswerResult, len(invitations))
	done := make([]bool, len(invitations))
	var mu sync.Mutex

	g.log.Info("Starting research batch", "count", len(invitations), "concurrency", g.opts.Concurrency, "timeout", g.opts.Timeout)

	stopFlush := g.startFlusher(func() []types.AnswerResult {
		mu.Lock()
		defer mu.Unlock()
		var partial []types.AnswerResult
		for i, ok := range done {
			if ok {
				partial = append(partial, results[i])
			}
		}
		return partial
	})

	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, inv := range invitations {
		eg.Go(func() error {
			r := g.research(ctx, inv.Question)
			mu.Lock()
			results[i] = r
			done[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	stopFlush()

	artifact := ""
	if g.opts.Artifacts != nil {
		if path, err := g.opts.Artifacts.WriteBatch("answers", results); err != nil {
			g.log.Error("Could not write answers artifact", "error", err)
		} else {
			g.log.Info("Answers written", "path", path)
			artifact = path
		}
	}
	g.mu.Lock()
	g.last, g.artifact = results, artifact
	g.mu.Unlock()

	answers := emptyAnswers(invitations)
	ok := 0
	for _, r := range results {
		if r.AnswerText != "" {
			answers[r.QuestionID] = r.AnswerText
			ok++
		}
	}
	g.log.Info("Research batch finished", "answered", ok, "total", len(invitations))
	return answers, ctx.Err()
}

// LastResults returns the per-question results of the latest batch.
func (g *ResearchGenerator) LastResults() []types.AnswerResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.AnswerResult(nil), g.last...)
}

// LastArtifact returns the answers file written by the latest batch.
func (g *ResearchGenerator) LastArtifact() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.artifact
}

// startFlusher periodically writes the completed results to the latest
// answers artifact. The returned func stops it.
func (g *ResearchGenerator) startFlusher(snapshot func() []types.AnswerResult) func() {
	if g.opts.FlushInterval <= 0 || g.opts.Artifacts == nil {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(g.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				partial := snapshot()
				if err := g.opts.Artifacts.WriteLatest("answers", partial); err != nil {
					g.log.Warn("Could not flush partial answers", "error", err)
					continue
				}
				g.log.Debug("Flushed partial answers", "completed", len(partial))
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

// research performs one call. It never fails; the outcome is in the result.
func (g *ResearchGenerator) research(ctx context.Context, q *types.Question) types.AnswerResult {
	res := types.AnswerResult{QuestionID: q.ID, Title: q.Title, URL: q.URL}
	start := time.Now()

	body, status, err := g.call(ctx, q)
	res.Status = status
	res.Elapsed = time.Since(start)
	res.TextPrefix = textutil.Truncate(string(body), TextPrefixLength)

	var parsed map[string]any
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		res.Raw = parsed
	}

	if err != nil {
		res.Error = err.Error()
		g.log.Error("Research call failed", "id", q.ID, "status", status, "error", err, "elapsed", res.Elapsed.Round(time.Second))
		return res
	}

	res.OK = true
	if text, ok := parsed[g.opts.AnswerField].(string); ok {
		res.AnswerText = strings.TrimSpace(text)
	}
	if res.AnswerText == "" {
		g.log.Warn("Research reply has no answer text", "id", q.ID, "field", g.opts.AnswerField)
	} else {
		g.log.Info("Research answer received", "id", q.ID, "chars", len([]rune(res.AnswerText)), "elapsed", res.Elapsed.Round(time.Second))
	}
	return res
}

func (g *ResearchGenerator) call(ctx context.Context, q *types.Question) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	payload, err := json.Marshal(researchRequest{Query: q.Title, Context: q.Content, Token: g.opts.Token})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("research request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return body, resp.StatusCode, fmt.Errorf("failed to read research reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, URL: g.opts.Endpoint}
	}
	return body, resp.StatusCode, nil
}

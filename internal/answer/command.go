package answer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/answerbot/internal/textutil"
	"github.com/go-scripts/answerbot/internal/types"
)

// MaxCommandContext caps the {content} substitution, in characters.
const MaxCommandContext = 500

// CommandGenerator runs a shell command per question, one at a time, and
// uses its standard output as the answer.
type CommandGenerator struct {
	template string
	timeout  time.Duration
	log      *log.Logger
}

// NewCommand returns a CommandGenerator for template. {title} and {content}
// are replaced by single-quoted shell words.
func NewCommand(template string, timeout time.Duration, logger *log.Logger) *CommandGenerator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CommandGenerator{template: strings.TrimSpace(template), timeout: timeout, log: logger}
}

func (g *CommandGenerator) Name() string { return "command" }

func (g *CommandGenerator) GenerateBatch(ctx context.Context, invitations []types.Invitation) (map[string]string, error) {
	answers := emptyAnswers(invitations)
	for _, inv := range invitations {
		if err := ctx.Err(); err != nil {
			return answers, err
		}
		answers[inv.Question.ID] = g.generate(ctx, inv.Question)
	}
	return answers, ctx.Err()
}

func (g *CommandGenerator) generate(ctx context.Context, q *types.Question) string {
	if g.template == "" {
		g.log.Warn("No answer command configured, using placeholder text", "id", q.ID)
		return Placeholder(q.Title)
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", Expand(g.template, q.Title, q.Content))
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			g.log.Error("Answer command timed out", "id", q.ID, "timeout", g.timeout)
		} else {
			g.log.Error("Answer command failed", "id", q.ID, "error", err, "stderr", textutil.Truncate(stderr.String(), 300))
		}
		return ""
	}

	answer := strings.TrimSpace(string(out))
	g.log.Info("Answer generated", "id", q.ID, "chars", len([]rune(answer)), "elapsed", time.Since(start).Round(time.Millisecond))
	return answer
}

// Expand substitutes the placeholders of template. content is capped at
// MaxCommandContext characters.
func Expand(template, title, content string) string {
	r := strings.NewReplacer(
		"{title}", shellQuote(title),
		"{content}", shellQuote(textutil.Truncate(content, MaxCommandContext)),
	)
	return r.Replace(template)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/bubbles/progress"
)

// ProgressTracker shows stage progress on a terminal: a bar for stages with
// a known item count and a spinner for long waits.
type ProgressTracker struct {
	bar     progress.Model
	out     io.Writer
	enabled bool
	stage   string
	total   int
	done    int
	mu      sync.Mutex
}

// New creates a new ProgressTracker. A disabled tracker only counts.
func New(out io.Writer, enabled bool) *ProgressTracker {
	return &ProgressTracker{
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		out:     out,
		enabled: enabled && out != nil,
	}
}

// StartStage resets the counter for a stage of total items
func (p *ProgressTracker) StartStage(stage string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.total = total
	p.done = 0
}

// Increment marks one item of the current stage as handled
func (p *ProgressTracker) Increment(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if !p.enabled || p.total == 0 {
		return
	}
	fmt.Fprintf(p.out, "\r%s %s %d/%d %s",
		p.stage,
		p.bar.ViewAs(float64(p.done)/float64(p.total)),
		p.done,
		p.total,
		label)
	if p.done == p.total {
		fmt.Fprintln(p.out)
	}
}

// Spin shows a spinner with msg until the returned func is called
func (p *ProgressTracker) Spin(msg string) func() {
	if !p.enabled {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.out))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

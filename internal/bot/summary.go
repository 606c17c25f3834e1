package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-scripts/answerbot/internal/types"
)

// maxListedFailures bounds the failures spelled out in a notification.
const maxListedFailures = 10

// State is a stage of the run.
type State int

const (
	StateNotLoggedIn State = iota
	StateExtracting
	StateDetailing
	StateGenerating
	StateDrafting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotLoggedIn:
		return "not_logged_in"
	case StateExtracting:
		return "extracting"
	case StateDetailing:
		return "detailing"
	case StateGenerating:
		return "generating"
	case StateDrafting:
		return "drafting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Summary describes one finished run. It is not modified after Run returns.
type Summary struct {
	ID           string            `json:"id"`
	Started      time.Time         `json:"started"`
	Ended        time.Time         `json:"ended"`
	Mode         string            `json:"mode"`
	State        State             `json:"-"`
	Selected     int               `json:"selected"`
	DraftSavedOK int               `json:"draft_saved_ok"`
	Failures     []types.Failure   `json:"failures"`
	Artifacts    map[string]string `json:"artifacts"`
}

// Text renders the notification message.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "知乎邀请回答草稿 run %s\n", s.ID)
	fmt.Fprintf(&b, "start: %s\n", s.Started.Format(time.DateTime))
	fmt.Fprintf(&b, "end: %s\n", s.Ended.Format(time.DateTime))
	fmt.Fprintf(&b, "mode: %s\n", s.Mode)
	fmt.Fprintf(&b, "selected: %d\n", s.Selected)
	fmt.Fprintf(&b, "draft_saved_ok: %d\n", s.DraftSavedOK)
	fmt.Fprintf(&b, "failures: %d\n", len(s.Failures))

	for i, f := range s.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "  ... %d more\n", len(s.Failures)-maxListedFailures)
			break
		}
		if f.Status != 0 {
			fmt.Fprintf(&b, "  - [%s] %s (status %d)\n", f.Stage, f.Title, f.Status)
		} else {
			fmt.Fprintf(&b, "  - [%s] %s\n", f.Stage, f.Title)
		}
	}

	if len(s.Artifacts) > 0 {
		names := make([]string, 0, len(s.Artifacts))
		for name := range s.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("artifacts:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  - %s: %s\n", name, s.Artifacts[name])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

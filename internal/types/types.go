package types

import "time"

// Question is a question the account was invited to answer.
type Question struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Invitation wraps a Question with the best-effort feed metadata.
type Invitation struct {
	Question  *Question `json:"question"`
	Inviter   string    `json:"inviter,omitempty"`
	InvitedAt string    `json:"invited_at,omitempty"`
}

// InvitationRecord is the flattened form written to the invitations artifact.
type InvitationRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	Inviter   string `json:"inviter"`
	InvitedAt string `json:"invited_at"`
}

// Record flattens the invitation for export.
func (i Invitation) Record() InvitationRecord {
	return InvitationRecord{
		ID:        i.Question.ID,
		Title:     i.Question.Title,
		URL:       i.Question.URL,
		Content:   i.Question.Content,
		Inviter:   i.Inviter,
		InvitedAt: i.InvitedAt,
	}
}

// Failure is one recorded per-item (or run-level) failure.
type Failure struct {
	Stage  string `json:"stage"`
	Title  string `json:"title"`
	Status int    `json:"status,omitempty"`
}

// Pipeline stages used in failure records.
const (
	StageLogin    = "login"
	StageGenerate = "generate"
	StageDraft    = "draft"
	StageRun      = "run"
)

// Summary modes of runs that never reached a generator.
const (
	ModeNotLoggedIn = "not logged in"
	ModeStartup     = "startup"
)

// AnswerResult is the per-question outcome of a research call.
type AnswerResult struct {
	QuestionID string         `json:"question_id"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	OK         bool           `json:"ok"`
	Status     int            `json:"status"`
	AnswerText string         `json:"answer_text"`
	Raw        map[string]any `json:"raw,omitempty"`
	TextPrefix string         `json:"text_prefix"`
	Error      string         `json:"error,omitempty"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

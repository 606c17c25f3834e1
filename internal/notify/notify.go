// Package notify delivers the run summary to the operator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Notifier sends one text message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// New returns a Feishu notifier for webhook, or a LogNotifier when no
// webhook is configured.
func New(webhook string, logger *log.Logger) Notifier {
	if logger == nil {
		logger = log.Default()
	}
	if webhook == "" {
		return &LogNotifier{log: logger}
	}
	return &Feishu{
		webhook: webhook,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger,
	}
}

// LogNotifier writes the message to the log only.
type LogNotifier struct {
	log *log.Logger
}

func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.log.Info("No notification webhook configured, summary follows\n" + text)
	return nil
}

type feishuMessage struct {
	MsgType string        `json:"msg_type"`
	Content feishuContent `json:"content"`
}

type feishuContent struct {
	Text string `json:"text"`
}

type feishuReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Feishu posts text messages to a Feishu bot webhook.
type Feishu struct {
	webhook string
	client  *http.Client
	log     *log.Logger
}

func (f *Feishu) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(feishuMessage{MsgType: "text", Content: feishuContent{Text: text}})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification webhook returned status %d: %s", resp.StatusCode, raw)
	}
	// The webhook reports delivery errors in the body with HTTP 200.
	var reply feishuReply
	if json.Unmarshal(raw, &reply) == nil && reply.Code != 0 {
		return fmt.Errorf("notification rejected: code %d: %s", reply.Code, reply.Msg)
	}
	f.log.Info("Notification sent")
	return nil
}

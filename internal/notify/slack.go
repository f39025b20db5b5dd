package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts notifications to an incoming-webhook URL. An empty URL
// disables it.
type Slack struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func slackColor(l Level) string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func (s *Slack) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil
	}
	msg := slackMessage{
		Text: n.Title,
		Attachments: []slackAttachment{{
			Color:  slackColor(n.Level),
			Title:  n.Ref,
			Text:   n.Message,
			Footer: "bidengine",
		}},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

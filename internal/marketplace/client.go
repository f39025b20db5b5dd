// Package marketplace is the HTTP adapter for the external task marketplace:
// discovery of open tasks and submission of work on behalf of an agent.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inaiurai/bidengine/internal/models"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrSourceUnavailable is returned when open tasks could not be fetched.
	ErrSourceUnavailable = errors.New("task source unavailable")
	// ErrSubmitFailed is returned when the marketplace rejects or errors on a submission.
	ErrSubmitFailed = errors.New("submit failed")
)

// Client talks to the marketplace REST API.
type Client struct {
	BaseURL      string
	DiscoveryKey string
	Skills       []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// NewClient returns a Client with a bounded HTTP timeout. The discovery
// credential is the first profile key available; skills are the union of
// all profile skills and narrow the upstream query.
func NewClient(baseURL string, profiles []models.AgentProfile, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
	seen := make(map[string]bool)
	for _, p := range profiles {
		if c.DiscoveryKey == "" && p.Key != "" {
			c.DiscoveryKey = p.Key
		}
		for _, s := range p.Skills {
			if !seen[s] {
				seen[s] = true
				c.Skills = append(c.Skills, s)
			}
		}
	}
	sort.Strings(c.Skills)
	return c
}

// wireTask is the marketplace's task record; fields vary in type between
// API versions so reward and tags are decoded loosely.
type wireTask struct {
	ID          json.RawMessage `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Reward      json.RawMessage `json:"reward"`
	Tags        []string        `json:"tags"`
	Status      string          `json:"status"`
}

// FetchOpenTasks returns the open tasks matching the roster's skills.
// Any failure wraps ErrSourceUnavailable; callers treat it as zero tasks.
func (c *Client) FetchOpenTasks(ctx context.Context) ([]models.Task, error) {
	q := url.Values{}
	q.Set("status", string(models.TaskStatusOpen))
	if len(c.Skills) > 0 {
		q.Set("skills", strings.Join(c.Skills, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/tasks?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.DiscoveryKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.DiscoveryKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceUnavailable, resp.StatusCode, upstreamMessage(body))
	}

	raw, err := decodeTaskList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode tasks: %v", ErrSourceUnavailable, err)
	}

	tasks := make([]models.Task, 0, len(raw))
	for _, w := range raw {
		t, ok := normalizeTask(w)
		if !ok {
			c.Logger.Warn("dropping malformed marketplace task", "title", w.Title)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// decodeTaskList accepts either a bare array or {"tasks": [...]}.
func decodeTaskList(body []byte) ([]wireTask, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []wireTask
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var env struct {
		Tasks []wireTask `json:"tasks"`
		Data  []wireTask `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Tasks != nil {
		return env.Tasks, nil
	}
	return env.Data, nil
}

func normalizeTask(w wireTask) (models.Task, bool) {
	id := rawScalar(w.ID)
	if id == "" {
		return models.Task{}, false
	}
	reward, _ := strconv.ParseFloat(rawScalar(w.Reward), 64)
	if reward < 0 || math.IsNaN(reward) || math.IsInf(reward, 0) {
		reward = 0
	}
	seen := make(map[string]bool, len(w.Tags))
	tags := make([]string, 0, len(w.Tags))
	for _, tag := range w.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return models.Task{
		ID:          id,
		Title:       strings.TrimSpace(w.Title),
		Description: strings.TrimSpace(w.Description),
		Reward:      reward,
		Tags:        tags,
		Status:      models.TaskStatus(strings.ToLower(strings.TrimSpace(w.Status))),
	}, true
}

// rawScalar renders a JSON string or number as a plain string.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// SubmitResult is the marketplace's answer to a submission.
type SubmitResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type submitPayload struct {
	Content string `json:"content"`
	Agent   string `json:"agent"`
}

// Submit posts content to the task on behalf of agent. Non-2xx answers and
// transport errors wrap ErrSubmitFailed and carry the upstream message.
func (c *Client) Submit(ctx context.Context, agent *models.AgentProfile, taskID, content string) (SubmitResult, error) {
	body, err := json.Marshal(submitPayload{Content: content, Agent: agent.DisplayName})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshal submission: %w", err)
	}
	endpoint := fmt.Sprintf("%s/tasks/%s/submissions", c.BaseURL, url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: create request: %v", ErrSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if agent.Key != "" {
		req.Header.Set("Authorization", "Bearer "+agent.Key)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	msg := upstreamMessage(respBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SubmitResult{Message: msg}, fmt.Errorf("%w: status %d: %s", ErrSubmitFailed, resp.StatusCode, msg)
	}
	if msg == "" {
		msg = "submitted"
	}
	return SubmitResult{OK: true, Message: msg}, nil
}

// upstreamMessage pulls a human-readable message out of an API response.
func upstreamMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

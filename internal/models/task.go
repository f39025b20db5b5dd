package models

import "strings"

// TaskStatus is the marketplace lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusVerified  TaskStatus = "verified"
	TaskStatusDisputed  TaskStatus = "disputed"
)

// Task is a unit of work published by the marketplace. Read-only to the engine.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reward      float64    `json:"reward"`
	Tags        []string   `json:"tags"`
	Status      TaskStatus `json:"status"`
}

// Eligible reports whether the task can be bid on at all.
func (t *Task) Eligible() bool {
	return t.Status == TaskStatusOpen && t.Reward > 0
}

// Text returns the case-folded title, description and tags used for
// keyword scanning and classification.
func (t *Task) Text() string {
	var b strings.Builder
	b.WriteString(t.Title)
	b.WriteByte(' ')
	b.WriteString(t.Description)
	for _, tag := range t.Tags {
		b.WriteByte(' ')
		b.WriteString(tag)
	}
	return strings.ToLower(b.String())
}

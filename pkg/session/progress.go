package session

import "github.com/google/uuid"

// ProgressStatus tracks one tool call through its round.
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressExecuting ProgressStatus = "executing"
	ProgressComplete  ProgressStatus = "complete"
	ProgressError     ProgressStatus = "error"
)

// ToolCallProgress is the UI-facing record of one parsed tool call. It
// lives only for the duration of the round and is cleared at turn
// finalization or on error.
type ToolCallProgress struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	QuestionPreview string         `json:"questionPreview,omitempty"`
	Status          ProgressStatus `json:"status"`
	ResultPreview   string         `json:"resultPreview,omitempty"`
}

// AddProgress registers a pending progress entry and returns its id.
func (s *Session) AddProgress(toolName, questionPreview string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &ToolCallProgress{
		ID:              uuid.New().String(),
		Name:            toolName,
		QuestionPreview: questionPreview,
		Status:          ProgressPending,
	}
	s.progress = append(s.progress, entry)
	return entry.ID
}

// SetProgressStatus transitions a progress entry. An empty resultPreview
// leaves the existing preview untouched.
func (s *Session) SetProgressStatus(id string, status ProgressStatus, resultPreview string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.progress {
		if entry.ID != id {
			continue
		}
		entry.Status = status
		if resultPreview != "" {
			entry.ResultPreview = resultPreview
		}
		return
	}
}

// Progress returns a snapshot of the current progress entries.
func (s *Session) Progress() []ToolCallProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]ToolCallProgress, 0, len(s.progress))
	for _, entry := range s.progress {
		snapshot = append(snapshot, *entry)
	}
	return snapshot
}

// ClearProgress drops every progress entry.
func (s *Session) ClearProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = nil
}

// Package session implements the Session Manager (spec.md §4.J): create,
// load, list, delete, and mutate sessions persisted as one JSON file per
// session under <project>/.doge/sessions/<uuid>.json, written atomically
// (temp file + rename), adapted from a SQLite-backed
// storage_adapter.go/SessionStore to spec.md §3's explicit JSON-file
// requirement.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mopemope/doge-code/internal/convo"
)

// Session is spec.md §3's Session record.
type Session struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	RequestCount int             `json:"request_count"`
	TokenCount   int             `json:"token_count"`
	ChangedFiles []string        `json:"changed_files"`
	Conversation []convo.Message `json:"conversation"`

	changedFileSet map[string]bool
}

// New creates a fresh, unsaved session with a generated UUID.
func New(title string) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.NewString(),
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
		ChangedFiles:   nil,
		Conversation:   nil,
		changedFileSet: map[string]bool{},
	}
}

// AppendMessage appends m to the conversation and bumps UpdatedAt.
func (s *Session) AppendMessage(m convo.Message) {
	s.Conversation = append(s.Conversation, m)
	s.UpdatedAt = time.Now()
}

// ReplaceConversation swaps the whole conversation, used after
// auto-compaction replaces history with a `<state_snapshot>` message.
func (s *Session) ReplaceConversation(messages []convo.Message) {
	s.Conversation = messages
	s.UpdatedAt = time.Now()
}

// BumpRequestCount increments the per-session request counter, called
// once per completed user turn (success or error), per spec.md §3.
func (s *Session) BumpRequestCount() {
	s.RequestCount++
	s.UpdatedAt = time.Now()
}

// SetTokenCount records the latest total-token count reported by the LLM
// client for this session.
func (s *Session) SetTokenCount(tokens int) {
	s.TokenCount = tokens
	s.UpdatedAt = time.Now()
}

// AddChangedFile appends path to ChangedFiles if not already present,
// preserving spec.md §3's "ordered-set-of-relative-paths" semantics.
func (s *Session) AddChangedFile(path string) {
	if s.changedFileSet == nil {
		s.changedFileSet = make(map[string]bool, len(s.ChangedFiles))
		for _, f := range s.ChangedFiles {
			s.changedFileSet[f] = true
		}
	}
	if s.changedFileSet[path] {
		return
	}
	s.changedFileSet[path] = true
	s.ChangedFiles = append(s.ChangedFiles, path)
	s.UpdatedAt = time.Now()
}

package domain

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a writing session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
)

// Role identifies the author of a message.
type Role string

const (
	RoleAI   Role = "AI"
	RoleUser Role = "USER"
)

// WritingSession is one practice conversation about a topic.
type WritingSession struct {
	ID        string
	UserID    string
	Topic     string
	Status    SessionStatus
	CreatedAt time.Time
}

// IsCompleted returns true once the session has been sealed.
func (s *WritingSession) IsCompleted() bool {
	return s.Status == SessionCompleted
}

// OwnedBy returns true if the session belongs to userID.
func (s *WritingSession) OwnedBy(userID string) bool {
	return s.UserID != "" && s.UserID == userID
}

// SessionSummary is the list projection of a session.
type SessionSummary struct {
	ID           string
	Topic        string
	Status       SessionStatus
	MessageCount int
	CreatedAt    time.Time
}

// Message is one entry of a session ledger. Order is 1-based and gapless.
type Message struct {
	ID          string
	SessionID   string
	Role        Role
	Content     string
	Order       int
	IsCorrect   *bool
	Improvement *string
	CreatedAt   time.Time
}

// Transcript renders the message as a "ROLE: content" line.
func (m Message) Transcript() string {
	return string(m.Role) + ": " + m.Content
}

// Mistake records a rejected user submission.
type Mistake struct {
	ID          string
	SessionID   string
	Original    string
	Correction  string
	Explanation string
	Reviewed    bool
	CreatedAt   time.Time
}

// NewMessage is a message waiting to be appended to a ledger.
type NewMessage struct {
	Role        Role
	Content     string
	Order       int
	IsCorrect   *bool
	Improvement *string
}

// NewMistake is a mistake waiting to be recorded.
type NewMistake struct {
	Original    string
	Correction  string
	Explanation string
}

// GrammarVerdict is the grammar oracle's answer for one sentence.
type GrammarVerdict struct {
	IsCorrect  bool
	Error      string
	Correction string
	// Fallback is set when the oracle was unavailable and the verdict is the
	// fail-open default.
	Fallback bool
}

// NormalizeSentence trims, case-folds and collapses whitespace runs so two
// sentences differing only in those respects compare equal.
func NormalizeSentence(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SameSentence reports whether a and b are equal after normalization.
func SameSentence(a, b string) bool {
	return NormalizeSentence(a) == NormalizeSentence(b)
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

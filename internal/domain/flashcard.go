package domain

import "time"

const (
	DefaultSourceLang = "en"
	DefaultTargetLang = "vi"
)

// Flashcard is a saved vocabulary item.
type Flashcard struct {
	ID          string
	UserID      string
	SourceText  string
	Translation *string
	SourceLang  string
	TargetLang  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Package vocab manages flashcards and their spreadsheet import and export.
package vocab

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/store"
)

// MaxTextChars bounds the source text and translation of a card.
const MaxTextChars = 500

// Input is a flashcard as submitted by a user.
type Input struct {
	Text        string
	Translation string
	SourceLang  string
	TargetLang  string
}

// Service saves and lists flashcards.
type Service struct {
	store         store.FlashcardStore
	maxImportRows int
}

// NewService creates a Service.
func NewService(s store.FlashcardStore) *Service {
	return &Service{store: s, maxImportRows: MaxImportRows}
}

func normalize(userID string, in Input) (*domain.Flashcard, error) {
	text := strings.Join(strings.Fields(in.Text), " ")
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", domain.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return nil, fmt.Errorf("%w: text exceeds %d characters", domain.ErrInvalidArgument, MaxTextChars)
	}
	translation := strings.TrimSpace(in.Translation)
	if utf8.RuneCountInString(translation) > MaxTextChars {
		return nil, fmt.Errorf("%w: translation exceeds %d characters", domain.ErrInvalidArgument, MaxTextChars)
	}

	card := &domain.Flashcard{
		UserID:      userID,
		SourceText:  text,
		Translation: domain.StringPtr(translation),
		SourceLang:  langOrDefault(in.SourceLang, domain.DefaultSourceLang),
		TargetLang:  langOrDefault(in.TargetLang, domain.DefaultTargetLang),
	}
	return card, nil
}

func langOrDefault(lang, fallback string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return fallback
	}
	return lang
}

// Save creates or updates the user's card for in.Text and reports whether it
// was created.
func (s *Service) Save(ctx context.Context, userID string, in Input) (*domain.Flashcard, bool, error) {
	card, err := normalize(userID, in)
	if err != nil {
		return nil, false, err
	}
	created, err := s.store.UpsertFlashcard(ctx, card)
	if err != nil {
		return nil, false, err
	}
	return card, created, nil
}

// List returns the user's cards, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Flashcard, error) {
	return s.store.ListFlashcards(ctx, userID)
}

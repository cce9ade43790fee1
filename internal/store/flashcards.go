package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/google/uuid"
)

type flashcardRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	SourceText  string         `db:"source_text"`
	Translation sql.NullString `db:"translation"`
	SourceLang  string         `db:"source_lang"`
	TargetLang  string         `db:"target_lang"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
}

func (r flashcardRow) toDomain() domain.Flashcard {
	card := domain.Flashcard{
		ID:         r.ID,
		UserID:     r.UserID,
		SourceText: r.SourceText,
		SourceLang: r.SourceLang,
		TargetLang: r.TargetLang,
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
	if r.Translation.Valid {
		translation := r.Translation.String
		card.Translation = &translation
	}
	return card
}

// UpsertFlashcard creates the card or updates the user's card with the same
// source text. On return card carries the stored ID and timestamps.
func (s *SQLStore) UpsertFlashcard(ctx context.Context, card *domain.Flashcard) (bool, error) {
	var created bool
	err := s.retryBusy(ctx, "upsert_flashcard", func() error {
		var err error
		created, err = s.upsertFlashcardOnce(ctx, card)
		return err
	})
	return created, err
}

func (s *SQLStore) upsertFlashcardOnce(ctx context.Context, card *domain.Flashcard) (bool, error) {
	now := s.nowMillis()

	var existing flashcardRow
	err := s.db.GetContext(ctx, &existing, s.db.Rebind(`
		SELECT id, user_id, source_text, translation, source_lang, target_lang, created_at, updated_at
		FROM flashcards WHERE user_id = ? AND source_text = ?`), card.UserID, card.SourceText)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("get flashcard: %w", err)
	}

	id := uuid.NewString()
	createdAt := now
	if !created {
		id = existing.ID
		createdAt = existing.CreatedAt
	}

	var translation any
	if card.Translation != nil {
		translation = *card.Translation
	}

	query := s.db.Rebind(`
		INSERT INTO flashcards (id, user_id, source_text, translation, source_lang, target_lang, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source_text) DO UPDATE SET
			translation = excluded.translation,
			source_lang = excluded.source_lang,
			target_lang = excluded.target_lang,
			updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query,
		id, card.UserID, card.SourceText, translation, card.SourceLang, card.TargetLang, createdAt, now,
	); err != nil {
		return false, fmt.Errorf("upsert flashcard: %w", err)
	}

	card.ID = id
	card.CreatedAt = fromMillis(createdAt)
	card.UpdatedAt = fromMillis(now)
	return created, nil
}

// ListFlashcards returns the user's cards, newest first.
func (s *SQLStore) ListFlashcards(ctx context.Context, userID string) ([]domain.Flashcard, error) {
	query := s.db.Rebind(`
		SELECT id, user_id, source_text, translation, source_lang, target_lang, created_at, updated_at
		FROM flashcards WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`)

	var rows []flashcardRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}

	cards := make([]domain.Flashcard, 0, len(rows))
	for _, r := range rows {
		cards = append(cards, r.toDomain())
	}
	return cards, nil
}

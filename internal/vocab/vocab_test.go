package vocab

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "penpal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	userID := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{ID: userID, Email: userID + "@example.com", PasswordHash: "x"}))
	return NewService(s), userID
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	svc, userID := newTestService(t)

	card, created, err := svc.Save(ctx, userID, Input{Text: "  break   the ice ", Translation: "phá vỡ sự ngại ngùng"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "break the ice", card.SourceText)
	assert.Equal(t, domain.DefaultSourceLang, card.SourceLang)
	assert.Equal(t, domain.DefaultTargetLang, card.TargetLang)

	again, created, err := svc.Save(ctx, userID, Input{Text: "break the ice", TargetLang: "FR"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, card.ID, again.ID)
	assert.Nil(t, again.Translation)
	assert.Equal(t, "fr", again.TargetLang)

	_, _, err = svc.Save(ctx, userID, Input{Text: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, _, err = svc.Save(ctx, userID, Input{Text: strings.Repeat("x", MaxTextChars+1)})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	cards, err := svc.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func workbook(t *testing.T, sheet string, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	svc, userID := newTestService(t)
	_, _, err := svc.Save(ctx, userID, Input{Text: "take off"})
	require.NoError(t, err)

	buf := workbook(t, SheetName, [][]any{
		{"Text", "Translation", "Source language", "Target language"},
		{"take off", "cất cánh"},
		{"look up", "tra cứu", "en", "vi"},
		{strings.Repeat("y", MaxTextChars+1)},
	})

	result, err := svc.Import(ctx, userID, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Row 4")

	cards, err := svc.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
}

func TestImportFallsBackToFirstSheet(t *testing.T) {
	svc, userID := newTestService(t)
	buf := workbook(t, "Sheet1", [][]any{{"hello", "xin chào"}})

	result, err := svc.Import(context.Background(), userID, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestImportRowCap(t *testing.T) {
	tests := []struct {
		name string
		rows [][]any
	}{
		{"with header", [][]any{{"Text"}, {"one"}, {"two"}, {"three"}}},
		{"without header", [][]any{{"one"}, {"two"}, {"three"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, userID := newTestService(t)
			svc.maxImportRows = 2

			result, err := svc.Import(context.Background(), userID, workbook(t, SheetName, tt.rows))
			require.NoError(t, err)
			assert.Equal(t, 2, result.Created)
			assert.Equal(t, []string{"stopped after 2 rows"}, result.Errors)

			cards, err := svc.List(context.Background(), userID)
			require.NoError(t, err)
			assert.Len(t, cards, 2)
		})
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	svc, userID := newTestService(t)
	_, err := svc.Import(context.Background(), userID, strings.NewReader("not a workbook"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	svc, userID := newTestService(t)
	_, _, err := svc.Save(ctx, userID, Input{Text: "look up", Translation: "tra cứu"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, svc.Export(ctx, userID, &out))

	f, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Text", rows[0][0])
	assert.Equal(t, []string{"look up", "tra cứu", "en", "vi"}, rows[1][:4])
}

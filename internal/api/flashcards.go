package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/identity"
	"github.com/ashureev/penpal/internal/vocab"
	"github.com/go-chi/chi/v5"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxUploadBytes  = 5 << 20
)

// FlashcardHandler serves vocabulary flashcards.
type FlashcardHandler struct {
	*Handler
	vocab *vocab.Service
}

// NewFlashcardHandler creates a FlashcardHandler.
func NewFlashcardHandler(base *Handler, svc *vocab.Service) *FlashcardHandler {
	return &FlashcardHandler{Handler: base, vocab: svc}
}

// RegisterRoutes registers flashcard routes on the /api router.
func (h *FlashcardHandler) RegisterRoutes(r chi.Router) {
	r.Route("/flashcards", func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Get("/", h.List)
		r.Post("/", h.Save)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})
}

type flashcardRequest struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
	SourceLang  string `json:"sourceLang,omitempty"`
	TargetLang  string `json:"targetLang,omitempty"`
}

type flashcardResponse struct {
	ID          string    `json:"id"`
	SourceText  string    `json:"sourceText"`
	Translation *string   `json:"translation"`
	SourceLang  string    `json:"sourceLang"`
	TargetLang  string    `json:"targetLang"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toFlashcardResponse(c domain.Flashcard) flashcardResponse {
	return flashcardResponse{
		ID:          c.ID,
		SourceText:  c.SourceText,
		Translation: c.Translation,
		SourceLang:  c.SourceLang,
		TargetLang:  c.TargetLang,
		CreatedAt:   c.CreatedAt,
	}
}

// List returns the caller's flashcards.
func (h *FlashcardHandler) List(w http.ResponseWriter, r *http.Request) {
	cards, err := h.vocab.List(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	out := make([]flashcardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, toFlashcardResponse(c))
	}
	JSON(w, http.StatusOK, map[string]any{"flashcards": out})
}

// Save creates or updates a flashcard.
func (h *FlashcardHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req flashcardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	card, created, err := h.vocab.Save(r.Context(), identity.UserIDFromContext(r.Context()), vocab.Input{
		Text:        req.Text,
		Translation: req.Translation,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
	})
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	JSON(w, status, map[string]any{"flashcard": toFlashcardResponse(*card), "created": created})
}

// Export downloads the caller's flashcards as an XLSX workbook.
func (h *FlashcardHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.vocab.Export(r.Context(), identity.UserIDFromContext(r.Context()), &buf); err != nil {
		h.WriteError(w, r, err)
		return
	}

	filename := fmt.Sprintf("penpal-flashcards-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Import upserts flashcards from an uploaded XLSX workbook in form field "file".
func (h *FlashcardHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		ErrorCode(w, http.StatusBadRequest, CodeInvalidArgument, "expected a multipart upload no larger than 5 MB")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		ErrorCode(w, http.StatusBadRequest, CodeInvalidArgument, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	result, err := h.vocab.Import(r.Context(), identity.UserIDFromContext(r.Context()), file)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

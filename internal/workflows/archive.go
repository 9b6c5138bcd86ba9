package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/pkg/storage"
)

// Result is the archived document written when a record finalizes.
type Result struct {
	DocumentID    uuid.UUID              `json:"document_id"`
	ExtractedData map[string]any         `json:"extracted_data"`
	History       []records.HistoryEntry `json:"history"`
	FinalizedAt   time.Time              `json:"finalized_at"`
}

// ResultKey returns the storage key of id's result document.
func ResultKey(id uuid.UUID) string {
	return fmt.Sprintf("results/%s.json", id)
}

// Archive writes finalized results to storage. It satisfies engine.Archiver.
type Archive struct {
	storage storage.System
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchive creates an Archive over st.
func NewArchive(st storage.System, logger *slog.Logger) *Archive {
	return &Archive{
		storage: st,
		logger:  logger.With("system", "archive"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Archive uploads rec's result document. Uploading the same record twice
// overwrites the earlier document.
func (a *Archive) Archive(ctx context.Context, rec *records.Record) error {
	result := Result{
		DocumentID:    rec.ID,
		ExtractedData: rec.ExtractedData,
		History:       rec.History,
		FinalizedAt:   a.now(),
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	key := ResultKey(rec.ID)
	if err := a.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	a.logger.Info("result archived", "id", rec.ID, "key", key, "size", len(data))
	return nil
}

// Open returns the archived result document for id.
func (a *Archive) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	return a.storage.Download(ctx, ResultKey(id))
}

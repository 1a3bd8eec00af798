// Package archive persists terminal run records to object storage for
// long-term retention beyond the relational store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

// Store writes immutable archive objects.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// MinioStore writes archive objects into a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// record is the serialized archive document for one run.
type record struct {
	ID         string           `json:"id"`
	Protocol   string           `json:"protocol"`
	Version    string           `json:"version"`
	Source     string           `json:"source"`
	Commit     string           `json:"commit,omitempty"`
	Status     string           `json:"status"`
	Params     domain.Metadata  `json:"params,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	Output     domain.Metadata  `json:"output,omitempty"`
	Error      *domain.RunError `json:"error,omitempty"`
	FinalState domain.Metadata  `json:"final_state,omitempty"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// Archiver snapshots terminal runs into the archive store. Archival is best
// effort; the orchestrator never fails a run over it.
type Archiver struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(store Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger, now: time.Now}
}

// ArchiveRun writes the terminal record of run, including its exported final
// state, under runs/<id>/record.json.
func (a *Archiver) ArchiveRun(ctx context.Context, run domain.ProtocolRun, finalState domain.Metadata) error {
	rec := record{
		ID:         run.ID,
		Protocol:   run.Protocol,
		Version:    run.Version,
		Source:     run.Source,
		Commit:     run.Commit,
		Status:     string(run.Status),
		Params:     run.Params,
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
		DurationMS: run.Duration.Milliseconds(),
		Output:     run.Output,
		Error:      run.Error,
		FinalState: finalState,
		ArchivedAt: a.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}
	key := path.Join("runs", run.ID, "record.json")
	if err := a.store.Put(ctx, key, data, "application/json"); err != nil {
		return err
	}
	a.logger.Info("run archived", "run_id", run.ID, "key", key)
	return nil
}

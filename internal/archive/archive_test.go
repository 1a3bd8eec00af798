package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

type fakeStore struct {
	objects map[string][]byte
	err     error
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return nil
}

func TestArchiveRunWritesRecord(t *testing.T) {
	store := &fakeStore{}
	arch := NewArchiver(store, nil)
	arch.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	ended := time.Date(2026, 3, 1, 9, 55, 0, 0, time.UTC)
	run := domain.ProtocolRun{
		ID:       "run-42",
		Protocol: "serial_dilution",
		Version:  "1.2.0",
		Source:   "lab-protocols",
		Status:   domain.RunStatusCompleted,
		Duration: 90 * time.Second,
		EndedAt:  &ended,
		Output:   domain.Metadata{"plates": 2.0},
	}
	final := domain.Metadata{"step": "done"}
	if err := arch.ArchiveRun(context.Background(), run, final); err != nil {
		t.Fatalf("archive: %v", err)
	}

	data, ok := store.objects["runs/run-42/record.json"]
	if !ok {
		t.Fatalf("record object missing, have %v", store.objects)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Status != "completed" || rec.DurationMS != 90000 {
		t.Fatalf("unexpected record: status=%s duration=%d", rec.Status, rec.DurationMS)
	}
	if rec.FinalState["step"] != "done" {
		t.Fatalf("final state missing: %v", rec.FinalState)
	}
}

func TestArchiveRunPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("bucket unreachable")}
	arch := NewArchiver(store, nil)
	if err := arch.ArchiveRun(context.Background(), domain.ProtocolRun{ID: "run-1"}, nil); err == nil {
		t.Fatal("expected store error")
	}
}

package snapshots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campaignops/flowengine/internal/snapshots/drivers"
	"github.com/campaignops/flowengine/internal/workflow/model"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const contentType = "application/json"

// Snapshot is the archived form of a committed replacement.
type Snapshot struct {
	ChainID    uuid.UUID                  `json:"chainId"`
	CompanyID  string                     `json:"companyId"`
	Revision   int                        `json:"revision"`
	ArchivedAt time.Time                  `json:"archivedAt"`
	Definition *model.ReplaceFlowChainDTO `json:"definition"`
	Report     model.ReplaceReport        `json:"report"`
}

// Ref locates an archived snapshot.
type Ref struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int    `json:"size"`
}

// Service archives submitted definitions, one object per chain revision.
type Service struct {
	Driver StorageDriver
}

func NewService(driver StorageDriver) *Service {
	return &Service{Driver: driver}
}

// Key returns the object key of a chain revision.
func Key(chainID uuid.UUID, revision int) string {
	return fmt.Sprintf("flowchains/%s/%d.json", chainID, revision)
}

// Archive stores snap and returns where it was written. The object is removed again when no
// URL can be produced for it.
func (s *Service) Archive(ctx context.Context, snap Snapshot) (*Ref, error) {
	if snap.ArchivedAt.IsZero() {
		snap.ArchivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := Key(snap.ChainID, snap.Revision)
	if err := s.Driver.Save(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("storage driver failed: %w", err)
	}

	url, err := s.Driver.GenerateURL(ctx, key, 0)
	if err != nil {
		if delErr := s.Driver.Delete(ctx, key); delErr != nil {
			slog.WarnContext(ctx, "failed to cleanup orphaned snapshot", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to generate URL: %w", err)
	}

	slog.InfoContext(ctx, "flow chain snapshot archived", "chain_id", snap.ChainID, "revision", snap.Revision, "key", key)
	return &Ref{Key: key, URL: url, Size: len(data)}, nil
}

// Get reads back the snapshot of a chain revision.
func (s *Service) Get(ctx context.Context, chainID uuid.UUID, revision int) (*Snapshot, error) {
	key := Key(chainID, revision)
	reader, _, err := s.Driver.Get(ctx, key)
	if err != nil {
		if errors.Is(err, drivers.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

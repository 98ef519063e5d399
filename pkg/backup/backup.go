package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// SnapshotData is one serialized room-state snapshot. Rooms carries
// the raw room JSON so this package stays decoupled from the domain
// types.
type SnapshotData struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Rooms     json.RawMessage        `json:"rooms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Storage defines interface for snapshot storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// SnapshotService writes and reads room-state snapshots.
type SnapshotService struct {
	storage Storage
	version string
}

func NewSnapshotService(storage Storage, version string) *SnapshotService {
	return &SnapshotService{
		storage: storage,
		version: version,
	}
}

// CreateSnapshot persists the provided data and returns the snapshot
// name, which encodes the creation timestamp.
func (ss *SnapshotService) CreateSnapshot(ctx context.Context, data *SnapshotData) (string, error) {
	data.Version = ss.version
	data.Timestamp = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot data: %w", err)
	}

	name := fmt.Sprintf("snapshot-%s.json", data.Timestamp.Format("20060102-150405"))

	if err := ss.storage.Save(ctx, name, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return name, nil
}

// LoadSnapshot reads a snapshot back from storage.
func (ss *SnapshotService) LoadSnapshot(ctx context.Context, name string) (*SnapshotData, error) {
	reader, err := ss.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot data: %w", err)
	}

	var data SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot data: %w", err)
	}

	return &data, nil
}

// ListSnapshots lists all available snapshots, oldest naming first.
func (ss *SnapshotService) ListSnapshots(ctx context.Context) ([]string, error) {
	return ss.storage.List(ctx, "snapshot-")
}

func (ss *SnapshotService) DeleteSnapshot(ctx context.Context, name string) error {
	return ss.storage.Delete(ctx, name)
}

// SnapshotTimestamp parses the creation time out of a snapshot name.
func SnapshotTimestamp(name string) (time.Time, error) {
	const prefix, suffix = "snapshot-", ".json"
	if len(name) <= len(prefix)+len(suffix) {
		return time.Time{}, fmt.Errorf("malformed snapshot name %q", name)
	}
	stamp := name[len(prefix) : len(name)-len(suffix)]
	return time.Parse("20060102-150405", stamp)
}

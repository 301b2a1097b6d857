package store

import (
	"context"
	"time"
)

// SnapshotMeta describes one archived graph document. The document itself
// lives in object storage under ObjectKey.
type SnapshotMeta struct {
	ID         int64     `json:"id"`
	ObjectKey  string    `json:"objectKey"`
	Reason     string    `json:"reason"`
	NodeCount  int       `json:"nodeCount"`
	EdgeCount  int       `json:"edgeCount"`
	ProducedAt time.Time `json:"producedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArchivedNode is the searchable index entry of a node in a snapshot.
type ArchivedNode struct {
	NodeID      string  `json:"nodeId"`
	Label       string  `json:"label"`
	Type        string  `json:"type"`
	ExternalKey *string `json:"externalKey,omitempty"`
}

// SnapshotStorage records archived snapshots so that the latest one can be
// restored on startup and older ones can be listed.
type SnapshotStorage interface {
	// SaveSnapshot stores meta and the node index in one transaction and
	// returns the new snapshot id. Saving an object key twice is a no-op
	// that returns the existing id.
	SaveSnapshot(ctx context.Context, meta SnapshotMeta, nodes []ArchivedNode) (int64, error)
	// LatestSnapshot returns common.ErrNotFound when nothing was archived.
	LatestSnapshot(ctx context.Context) (SnapshotMeta, error)
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error)
	// FindNodes searches the node index of all snapshots by label.
	FindNodes(ctx context.Context, label string, limit int) ([]ArchivedNode, error)
	// DeleteSnapshots removes the snapshots stored under keys together with
	// their node index and returns how many were removed. Unknown keys are
	// ignored.
	DeleteSnapshots(ctx context.Context, keys []string) (int64, error)
}

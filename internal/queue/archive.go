package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/folio-graph/folio/internal/storage"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/leaselock"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/store"
)

// Archiver stores graph events: the document goes to object storage, its
// metadata and node index to the snapshot database.
type Archiver struct {
	Objects   storage.ObjectAPI
	Snapshots store.SnapshotStorage
	// Keep is the number of documents retained in object storage. Zero
	// keeps everything.
	Keep int
	// Leases serialises pruning across workers. Without it every worker
	// prunes on its own.
	Leases Locker
}

// Locker is implemented by *leaselock.Locker.
type Locker interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context) error) error
	HeldBy(ctx context.Context, name string) (string, error)
}

// HandleGraphUpdated archives one TopicGraphUpdated message. It is safe to
// call again for a redelivered message.
func (a *Archiver) HandleGraphUpdated(ctx context.Context, body []byte) error {
	var msg GraphUpdatedMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return &common.ParseError{Raw: string(body), Err: err}
	}
	if msg.ProducedAt.IsZero() {
		return common.NewValidationError("producedAt", "must be set")
	}

	doc, err := json.Marshal(msg.Document)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	key := storage.SnapshotKey(msg.ProducedAt, msg.Reason)
	if err := storage.PutSnapshot(ctx, a.Objects, key, doc); err != nil {
		return err
	}

	nodes := make([]store.ArchivedNode, 0, len(msg.Document.Nodes))
	for _, n := range msg.Document.Nodes {
		nodes = append(nodes, store.ArchivedNode{
			NodeID:      n.ID,
			Label:       n.Label,
			Type:        string(common.NormalizeNodeType(n.Type)),
			ExternalKey: n.ExternalKey,
		})
	}

	id, err := a.Snapshots.SaveSnapshot(ctx, store.SnapshotMeta{
		ObjectKey:  key,
		Reason:     msg.Reason,
		NodeCount:  len(msg.Document.Nodes),
		EdgeCount:  len(msg.Document.Edges),
		ProducedAt: msg.ProducedAt,
	}, nodes)
	if err != nil {
		return err
	}
	logger.Info("[Archive] Snapshot stored", "id", id, "key", key, "nodes", len(nodes))

	// the snapshot itself is safe, pruning is retried with the next one
	if err := a.prune(ctx); err != nil {
		logger.Warn("[Archive] Failed to prune snapshots", "err", err)
	}
	return nil
}

// prune drops the snapshots beyond Keep. Database rows go first so that
// listings never link to deleted documents; documents whose rows are gone
// are picked up again by the next prune.
func (a *Archiver) prune(ctx context.Context) error {
	if a.Keep <= 0 {
		return nil
	}
	run := func(ctx context.Context) error {
		stale, err := storage.StaleSnapshots(ctx, a.Objects, a.Keep)
		if err != nil || len(stale) == 0 {
			return err
		}
		rows, err := a.Snapshots.DeleteSnapshots(ctx, stale)
		if err != nil {
			return err
		}
		if err := storage.DeleteSnapshots(ctx, a.Objects, stale); err != nil {
			return err
		}
		logger.Debug("[Archive] Pruned snapshots", "documents", len(stale), "rows", rows)
		return nil
	}
	if a.Leases == nil {
		return run(ctx)
	}

	err := a.Leases.Run(ctx, leaselock.ArchivePrune, run)
	if errors.Is(err, leaselock.ErrHeld) {
		holder, _ := a.Leases.HeldBy(ctx, leaselock.ArchivePrune)
		logger.Debug("[Archive] Pruning left to another worker", "holder", holder)
		return nil
	}
	return err
}

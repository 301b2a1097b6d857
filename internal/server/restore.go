package server

import (
	"bytes"
	"context"
	"fmt"

	"github.com/folio-graph/folio/internal/storage"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/store"
)

// restoreLatest loads the newest archived snapshot into the explorer the
// same way the bootstrap document is loaded. It reports whether anything
// was restored.
func restoreLatest(
	ctx context.Context,
	snapshots store.SnapshotStorage,
	objects storage.ObjectAPI,
	exp *explorer.Explorer,
) (bool, error) {
	meta, err := snapshots.LatestSnapshot(ctx)
	if err != nil {
		return false, err
	}

	raw, err := storage.GetSnapshot(ctx, objects, meta.ObjectKey)
	if err != nil {
		return false, err
	}
	doc, err := graph.ParseDocument(bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("snapshot %s: %w", meta.ObjectKey, err)
	}

	res, err := exp.LoadBootstrap(doc)
	if err != nil {
		return false, fmt.Errorf("snapshot %s: %w", meta.ObjectKey, err)
	}
	logger.Info("[Server] Restored snapshot", "id", meta.ID, "key", meta.ObjectKey, "nodes", len(res.NewIDs))
	return true, nil
}

// Package pgx archives graph snapshot metadata in PostgreSQL.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	nodeInsertChunkSize = 500
	maxLabelRunes       = 512
	maxReasonRunes      = 64
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// SnapshotDBStorage implements store.SnapshotStorage on the tables created by
// the migrations in /migrations.
type SnapshotDBStorage struct {
	conn pgxIConn
}

var _ store.SnapshotStorage = (*SnapshotDBStorage)(nil)

// NewSnapshotDBStorage uses an existing connection or pool.
func NewSnapshotDBStorage(conn pgxIConn) *SnapshotDBStorage {
	return &SnapshotDBStorage{conn: conn}
}

const insertSnapshot = `
INSERT INTO snapshots (object_key, reason, node_count, edge_count, produced_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (object_key) DO NOTHING
RETURNING id`

const insertSnapshotNode = `
INSERT INTO snapshot_nodes (snapshot_id, node_id, label, type, external_key)
VALUES ($1, $2, $3, $4, $5)`

const selectSnapshotColumns = `
SELECT id, object_key, reason, node_count, edge_count, produced_at, created_at
FROM snapshots`

func (s *SnapshotDBStorage) SaveSnapshot(
	ctx context.Context,
	meta store.SnapshotMeta,
	nodes []store.ArchivedNode,
) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, insertSnapshot,
		meta.ObjectKey, util.ArchiveText(meta.Reason, maxReasonRunes), meta.NodeCount, meta.EdgeCount, meta.ProducedAt,
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		// redelivered message, the snapshot is already archived
		err = tx.QueryRow(ctx, `SELECT id FROM snapshots WHERE object_key = $1`, meta.ObjectKey).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to load existing snapshot: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	nodes = store.DedupeNodes(nodes)
	err = store.ChunkRange(len(nodes), nodeInsertChunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, n := range nodes[start:end] {
			// labels come from model output and may carry NUL bytes
			batch.Queue(insertSnapshotNode, id, n.NodeID, util.ArchiveText(n.Label, maxLabelRunes), n.Type, n.ExternalKey)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert snapshot nodes: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

func (s *SnapshotDBStorage) LatestSnapshot(ctx context.Context) (store.SnapshotMeta, error) {
	row := s.conn.QueryRow(ctx, selectSnapshotColumns+` ORDER BY produced_at DESC, id DESC LIMIT 1`)
	meta, err := scanSnapshot(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.SnapshotMeta{}, fmt.Errorf("latest snapshot: %w", common.ErrNotFound)
	}
	if err != nil {
		return store.SnapshotMeta{}, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return meta, nil
}

func (s *SnapshotDBStorage) ListSnapshots(ctx context.Context, limit int) ([]store.SnapshotMeta, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, selectSnapshotColumns+` ORDER BY produced_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]store.SnapshotMeta, 0)
	for rows.Next() {
		meta, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *SnapshotDBStorage) FindNodes(ctx context.Context, label string, limit int) ([]store.ArchivedNode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
SELECT DISTINCT ON (node_id) node_id, label, type, external_key
FROM snapshot_nodes
WHERE lower(label) LIKE '%' || lower($1) || '%'
ORDER BY node_id, snapshot_id DESC
LIMIT $2`, label, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search snapshot nodes: %w", err)
	}

	nodes, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (store.ArchivedNode, error) {
		var n store.ArchivedNode
		err := row.Scan(&n.NodeID, &n.Label, &n.Type, &n.ExternalKey)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot nodes: %w", err)
	}
	return nodes, nil
}

// DeleteSnapshots relies on ON DELETE CASCADE to drop the node index.
func (s *SnapshotDBStorage) DeleteSnapshots(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := s.conn.Exec(ctx, `DELETE FROM snapshots WHERE object_key = ANY($1)`, keys)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(row pgxv5.Row) (store.SnapshotMeta, error) {
	var m store.SnapshotMeta
	err := row.Scan(&m.ID, &m.ObjectKey, &m.Reason, &m.NodeCount, &m.EdgeCount, &m.ProducedAt, &m.CreatedAt)
	return m, err
}

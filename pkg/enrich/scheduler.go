// Package enrich fills in bibliographic keys and imagery for graph nodes in
// the background. Foreground operations hand over new node ids and return
// right away; a single worker processes them one at a time.
package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"
)

// ErrStopped is returned by Flush when the worker stopped before the queue
// drained.
var ErrStopped = errors.New("enrichment scheduler stopped")

const (
	stepKey   = "key"
	stepImage = "image"
)

// Lookup is the part of the bibliographic client the scheduler needs.
type Lookup interface {
	FindKey(ctx context.Context, t common.NodeType, label, hint string) (string, error)
	ImageURL(ctx context.Context, t common.NodeType, label, key string) (string, error)
}

type Params struct {
	Store  *graph.Store
	Lookup Lookup
	// Retry applies to every single lookup. Zero uses
	// util.DefaultRetryOptions.
	Retry util.RetryOptions
}

type Scheduler struct {
	store  *graph.Store
	lookup Lookup
	retry  util.RetryOptions

	mu      sync.Mutex
	queue   []string
	queued  map[string]struct{}
	busy    bool
	stopped bool
	waiters []chan struct{}

	wake   chan struct{}
	done   chan struct{}
	start  sync.Once
	cancel context.CancelFunc
}

func NewScheduler(params Params) *Scheduler {
	return &Scheduler{
		store:  params.Store,
		lookup: params.Lookup,
		retry:  params.Retry,
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. It stops when ctx is cancelled or Close is
// called. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.start.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		go s.run(ctx)
	})
}

// Close stops the worker and waits for it to exit. Queued ids are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Enrich queues ids for enrichment and returns immediately. Ids that are
// already waiting are not queued twice.
func (s *Scheduler) Enrich(ids ...string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.queued[id]; ok {
			continue
		}
		s.queued[id] = struct{}{}
		s.queue = append(s.queue, id)
	}
	n := len(s.queue)
	s.mu.Unlock()

	metrics.EnrichmentQueueLength(n)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of ids waiting to be processed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush blocks until the queue is empty and the worker is idle.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.queue) == 0 && !s.busy {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer s.stop()

	logger.Debug("[Enrich] Worker started")
	for {
		id, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.process(ctx, id)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the next id. When the queue is empty the worker is marked idle
// and Flush waiters are released.
func (s *Scheduler) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.busy = false
		s.releaseLocked()
		return "", false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, id)
	s.busy = true
	metrics.EnrichmentQueueLength(len(s.queue))
	return id, true
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	s.busy = false
	s.queue = nil
	s.queued = make(map[string]struct{})
	s.releaseLocked()
	s.mu.Unlock()
	metrics.EnrichmentQueueLength(0)
	logger.Debug("[Enrich] Worker stopped")
}

func (s *Scheduler) releaseLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// process runs both steps for one node. Failures are logged and never
// stop the next step or the next id.
func (s *Scheduler) process(ctx context.Context, id string) {
	node, ok := s.store.Node(id)
	if !ok {
		logger.Debug("[Enrich] Node vanished before enrichment", "id", id)
		return
	}
	if !node.Type.HasExternalKey() {
		return
	}

	key := value(node.ExternalKey)
	if key == "" {
		key = s.resolveKey(ctx, node)
	} else {
		metrics.EnrichmentStep(stepKey, "skipped")
	}

	// the key step may have filled the image through another path
	if current, ok := s.store.Node(id); ok {
		node = current
	}
	if value(node.ImageURL) != "" {
		metrics.EnrichmentStep(stepImage, "skipped")
		return
	}
	s.resolveImage(ctx, node, key)
}

func (s *Scheduler) resolveKey(ctx context.Context, node common.Node) string {
	hint := ""
	if node.Type == common.NodeTypeBook {
		hint = s.authorHint(node.ID)
	}

	opts := s.retry
	opts.Name = "enrich key"
	key, err := util.RetryWithBackoff(ctx, opts, func(ctx context.Context) (string, error) {
		return s.lookup.FindKey(ctx, node.Type, node.Label, hint)
	})
	if err != nil {
		metrics.EnrichmentStep(stepKey, "error")
		logger.Warn("[Enrich] Key lookup failed", "id", node.ID, "label", node.Label, "err", err)
		return ""
	}
	if key == "" {
		metrics.EnrichmentStep(stepKey, "miss")
		return ""
	}

	updated, err := s.store.UpdateNode(node.ID, func(n *common.Node) bool {
		if value(n.ExternalKey) != "" {
			return false
		}
		n.ExternalKey = &key
		return true
	})
	if err != nil {
		metrics.EnrichmentStep(stepKey, "error")
		logger.Debug("[Enrich] Node vanished before key write", "id", node.ID)
		return key
	}
	metrics.EnrichmentStep(stepKey, "ok")
	return value(updated.ExternalKey)
}

func (s *Scheduler) resolveImage(ctx context.Context, node common.Node, key string) {
	opts := s.retry
	opts.Name = "enrich image"
	url, err := util.RetryWithBackoff(ctx, opts, func(ctx context.Context) (string, error) {
		return s.lookup.ImageURL(ctx, node.Type, node.Label, key)
	})
	if err != nil {
		metrics.EnrichmentStep(stepImage, "error")
		logger.Warn("[Enrich] Image lookup failed", "id", node.ID, "label", node.Label, "err", err)
		return
	}
	if url == "" {
		metrics.EnrichmentStep(stepImage, "miss")
		return
	}

	_, err = s.store.UpdateNode(node.ID, func(n *common.Node) bool {
		if value(n.ImageURL) != "" {
			return false
		}
		n.ImageURL = &url
		return true
	})
	if err != nil {
		metrics.EnrichmentStep(stepImage, "error")
		return
	}
	metrics.EnrichmentStep(stepImage, "ok")
}

// authorHint returns the label of the first author connected to a book.
func (s *Scheduler) authorHint(id string) string {
	for _, n := range s.store.Neighbours(id) {
		if n.Type == common.NodeTypeAuthor {
			return n.Label
		}
	}
	return ""
}

func value(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

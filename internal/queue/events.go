package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"
)

const defaultPublishDelay = 2 * time.Second

// GraphUpdatedMsg is the body of a TopicGraphUpdated event. It carries the
// whole document so consumers never read back from the server.
type GraphUpdatedMsg struct {
	Reason     string         `json:"reason"`
	NodeCount  int            `json:"nodeCount"`
	EdgeCount  int            `json:"edgeCount"`
	ProducedAt time.Time      `json:"producedAt"`
	Document   graph.Document `json:"document"`
}

type ChangePublisherParams struct {
	// Source returns the document to publish, usually Explorer.Export.
	Source func() graph.Document
	// Publish sends one event, usually PublishTopic on an open channel.
	Publish func(topic string, body []byte) error
	// Delay collapses bursts of changes into one event. Zero uses 2s.
	Delay time.Duration
}

// ChangePublisher turns graph change notifications into debounced
// TopicGraphUpdated events. Enrichment updates arrive one node at a time;
// only the last change of a burst is published.
type ChangePublisher struct {
	source  func() graph.Document
	publish func(topic string, body []byte) error
	delay   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	reason  string
	pending bool
	closed  bool
}

func NewChangePublisher(params ChangePublisherParams) *ChangePublisher {
	delay := params.Delay
	if delay <= 0 {
		delay = defaultPublishDelay
	}
	return &ChangePublisher{
		source:  params.Source,
		publish: params.Publish,
		delay:   delay,
		now:     time.Now,
	}
}

// Attach registers the publisher as a change listener of store.
func (p *ChangePublisher) Attach(store *graph.Store) {
	store.OnChange(p.Notify)
}

// Notify records a change and (re)starts the debounce timer.
func (p *ChangePublisher) Notify(c graph.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	// a reset followed by a batch is still reported as a reset
	if !p.pending || p.reason != string(graph.ChangeReset) {
		p.reason = string(c.Kind)
	}
	p.pending = true

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, p.Flush)
}

// Flush publishes the pending change right away.
func (p *ChangePublisher) Flush() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	reason := p.reason
	p.pending = false
	p.reason = ""
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	doc := p.source()
	msg := GraphUpdatedMsg{
		Reason:     reason,
		NodeCount:  len(doc.Nodes),
		EdgeCount:  len(doc.Edges),
		ProducedAt: p.now().UTC(),
		Document:   doc,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[Queue] Failed to marshal graph event", "err", err)
		return
	}
	if err := p.publish(TopicGraphUpdated, body); err != nil {
		logger.Error("[Queue] Failed to publish graph event", "topic", TopicGraphUpdated, "err", err)
		return
	}
	logger.Debug("[Queue] Published graph event", "reason", reason, "nodes", msg.NodeCount, "edges", msg.EdgeCount)
}

// Close publishes what is pending and ignores later changes.
func (p *ChangePublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Flush()
}

package queue

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	topics []string
	msgs   []GraphUpdatedMsg
}

func (s *sink) publish(topic string, body []byte) error {
	var msg GraphUpdatedMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func duneStore() *graph.Store {
	s := graph.NewStore()
	s.AddBatch(graph.Batch{
		Entities: []common.Entity{{Label: "Dune", Type: "book"}, {Label: "Frank Herbert", Type: "author"}},
		Edges:    []common.EdgeRef{{Source: "Dune", Target: "Frank Herbert"}},
	})
	return s
}

func TestChangePublisherDebouncesBursts(t *testing.T) {
	store := duneStore()
	out := &sink{}
	p := NewChangePublisher(ChangePublisherParams{
		Source:  store.Export,
		Publish: out.publish,
		Delay:   20 * time.Millisecond,
	})
	p.Attach(store)

	for range 5 {
		p.Notify(graph.Change{Kind: graph.ChangeUpdate})
	}
	assert.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, 1, out.count(), "a burst is published once")

	msg := out.msgs[0]
	assert.Equal(t, TopicGraphUpdated, out.topics[0])
	assert.Equal(t, string(graph.ChangeUpdate), msg.Reason)
	assert.Equal(t, 2, msg.NodeCount)
	assert.Equal(t, 1, msg.EdgeCount)
	assert.Len(t, msg.Document.Nodes, 2)
	assert.False(t, msg.ProducedAt.IsZero())
}

func TestChangePublisherKeepsResetReason(t *testing.T) {
	out := &sink{}
	p := NewChangePublisher(ChangePublisherParams{
		Source:  graph.NewStore().Export,
		Publish: out.publish,
		Delay:   time.Hour,
	})

	p.Notify(graph.Change{Kind: graph.ChangeReset})
	p.Notify(graph.Change{Kind: graph.ChangeBatch})
	p.Flush()

	require.Equal(t, 1, out.count())
	assert.Equal(t, string(graph.ChangeReset), out.msgs[0].Reason)
	assert.Zero(t, out.msgs[0].NodeCount)
}

func TestChangePublisherCloseFlushes(t *testing.T) {
	out := &sink{}
	p := NewChangePublisher(ChangePublisherParams{
		Source:  duneStore().Export,
		Publish: out.publish,
		Delay:   time.Hour,
	})

	p.Flush()
	assert.Zero(t, out.count(), "nothing pending, nothing published")

	p.Notify(graph.Change{Kind: graph.ChangeBatch})
	p.Close()
	assert.Equal(t, 1, out.count())

	p.Notify(graph.Change{Kind: graph.ChangeBatch})
	p.Flush()
	assert.Equal(t, 1, out.count(), "changes after close are ignored")
}

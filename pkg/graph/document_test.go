package graph

import (
	"strings"
	"testing"

	"github.com/folio-graph/folio/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootstrapJSON = `{
  "nodes": [
    {"label": "Dune", "type": "book", "publicationYear": 1965, "externalKey": "OL893415W"},
    {"label": "Frank Herbert", "type": "author"},
    {"label": "Ecology", "type": "concept"}
  ],
  "edges": [
    {"source": "Dune", "target": "Frank Herbert"},
    {"source": "Dune", "target": "Ecology"}
  ],
  "commentary": "Welcome"
}`

func TestParseAndImportBootstrap(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(bootstrapJSON))
	require.NoError(t, err)
	assert.Equal(t, "Welcome", doc.Commentary)

	s := NewStore()
	res, err := s.Import(doc, ImportOptions{Timestamp: BootstrapTimestamp, SuppressEnrichment: true})
	require.NoError(t, err)
	assert.Len(t, res.NewIDs, 3)
	assert.Empty(t, res.EnrichIDs())

	nodes, edges := s.Len()
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, edges)

	dune, ok := s.FindByIdentity(common.NodeTypeBook, "dune")
	require.True(t, ok)
	require.NotNil(t, dune.ExternalKey)
	assert.Equal(t, "OL893415W", *dune.ExternalKey)
	assert.Nil(t, dune.InitialPosition)
}

func TestParseDocumentRejectsGarbage(t *testing.T) {
	_, err := ParseDocument(strings.NewReader("{not json"))
	var ve *common.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestImportRejectsEmptyLabel(t *testing.T) {
	s := NewStore()
	_, err := s.Import(Document{Nodes: []DocumentNode{{Label: "Dune", Type: "book"}, {Type: "author"}}}, ImportOptions{})
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)

	nodes, _ := s.Len()
	assert.Zero(t, nodes, "nothing is merged when validation fails")
}

func TestExportImportRoundTrip(t *testing.T) {
	src := NewStore()
	res := src.AddBatch(duneBatch())
	_, err := src.UpdateNode(res.PrimaryID, func(n *common.Node) bool {
		n.Summary = common.ReadySummary("A desert planet.", "Ecology and power.")
		return true
	})
	require.NoError(t, err)

	doc := src.Export()
	require.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Edges, 1)

	dst := NewStore()
	_, err = dst.Import(doc, ImportOptions{Timestamp: 5})
	require.NoError(t, err)

	srcSnap, dstSnap := src.Snapshot(), dst.Snapshot()
	require.Len(t, dstSnap.Nodes, 2)
	require.Len(t, dstSnap.Edges, 1)
	for i := range srcSnap.Nodes {
		assert.Equal(t, srcSnap.Nodes[i].Label, dstSnap.Nodes[i].Label)
		assert.Equal(t, srcSnap.Nodes[i].Position, dstSnap.Nodes[i].Position)
	}

	dune, _ := dst.FindByLabel("Dune")
	assert.Equal(t, common.SummaryReady, dune.Summary.State)
	assert.Equal(t, "A desert planet.", dune.Summary.Text)

	// importing again changes nothing
	again, err := dst.Import(doc, ImportOptions{Timestamp: 5})
	require.NoError(t, err)
	assert.Empty(t, again.NewIDs)
	assert.Equal(t, dstSnap, dst.Snapshot())
}

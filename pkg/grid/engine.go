// Package grid implements the recommendation wall: a 10x10 board seeded
// with one book, where locked books steer the recommendations that fill
// the remaining slots and dismissed books never come back.
package grid

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/biblio"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	Columns     = 10
	Size        = Columns * Columns
	CenterIndex = 55

	defaultParallel = 4
)

type SlotStatus string

const (
	SlotEmpty     SlotStatus = "empty"
	SlotSuggested SlotStatus = "suggested"
	SlotLocked    SlotStatus = "locked"
)

type Slot struct {
	Index  int               `json:"index"`
	Status SlotStatus        `json:"status"`
	Book   *biblio.BookMatch `json:"book,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// State is a copy of the wall.
type State struct {
	Slots     []Slot `json:"slots"`
	Query     string `json:"query,omitempty"`
	IsSeeded  bool   `json:"isSeeded"`
	IsLoading bool   `json:"isLoading"`
	Status    string `json:"status,omitempty"`
}

// Books resolves titles to concrete books. *biblio.Client implements it.
type Books interface {
	SearchBook(ctx context.Context, query string) (*biblio.BookMatch, error)
	LookupBook(ctx context.Context, title, author string) (*biblio.BookMatch, error)
}

type Enricher interface {
	Enrich(ids ...string)
}

type Params struct {
	Store     *graph.Store
	Generator ai.Generator
	Books     Books
	Enricher  Enricher
	Retry     util.RetryOptions
	// Parallel bounds concurrent book lookups while populating.
	Parallel int
	Notify   func(caption string)
	// Context bounds background population. Defaults to
	// context.Background.
	Context context.Context
}

type Engine struct {
	store    *graph.Store
	gen      ai.Generator
	books    Books
	enricher Enricher
	retry    util.RetryOptions
	parallel int
	notify   func(string)
	ctx      context.Context

	mu        sync.Mutex
	slots     [Size]Slot
	dismissed map[string]struct{}
	query     string
	seeded    bool
	inflight  int
	status    string

	// wall is bumped on every reseed; population results of an older wall
	// are dropped.
	wall util.Generation
	wg   sync.WaitGroup
}

func NewEngine(params Params) *Engine {
	ctx := params.Context
	if ctx == nil {
		ctx = context.Background()
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	notify := params.Notify
	if notify == nil {
		notify = func(string) {}
	}
	e := &Engine{
		store:     params.Store,
		gen:       params.Generator,
		books:     params.Books,
		enricher:  params.Enricher,
		retry:     params.Retry,
		parallel:  parallel,
		notify:    notify,
		ctx:       ctx,
		dismissed: make(map[string]struct{}),
	}
	e.clearLocked()
	return e
}

// Seed clears the wall and places the best match for query, locked, in the
// center slot. Without a match the wall stays unseeded and no
// recommendations are requested.
func (e *Engine) Seed(ctx context.Context, query string) (State, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return State{}, common.NewValidationError("query", "must not be empty")
	}

	e.mu.Lock()
	gen := e.wall.Next()
	e.clearLocked()
	clear(e.dismissed)
	e.query = query
	e.seeded = false
	e.inflight++
	e.status = fmt.Sprintf("Looking up %q...", query)
	e.mu.Unlock()

	opts := e.retry
	opts.Name = "grid seed"
	match, err := util.RetryWithBackoff(ctx, opts, func(ctx context.Context) (*biblio.BookMatch, error) {
		return e.books.SearchBook(ctx, query)
	})

	e.mu.Lock()
	e.inflight--
	if !e.wall.IsCurrent(gen) {
		state := e.stateLocked()
		e.mu.Unlock()
		return state, nil
	}

	var caption string
	switch {
	case err != nil:
		caption = common.Caption(err)
		logger.Warn("[Grid] Seed lookup failed", "query", query, "err", err)
	case match == nil:
		caption = fmt.Sprintf("No book found for %q", query)
		logger.Info("[Grid] Seed without match", "query", query)
	default:
		e.slots[CenterIndex] = Slot{Index: CenterIndex, Status: SlotLocked, Book: match}
		e.seeded = true
		caption = fmt.Sprintf("Recommendations for %s", match.Title)
		logger.Info("[Grid] Seeded", "query", query, "title", match.Title, "author", match.Author)
	}
	e.status = caption
	if e.seeded {
		e.repopulateLocked()
	}
	state := e.stateLocked()
	e.mu.Unlock()

	e.notify(caption)
	if match != nil && state.IsSeeded {
		e.mergeIntoGraph(*match)
	}
	return state, err
}

// Lock pins the book in slot index so it steers future recommendations.
// The book and its author are added to the graph. Locking an empty slot is
// a no-op.
func (e *Engine) Lock(index int) (State, error) {
	if err := checkIndex(index); err != nil {
		return State{}, err
	}

	e.mu.Lock()
	slot := e.slots[index]
	if slot.Status != SlotSuggested {
		state := e.stateLocked()
		e.mu.Unlock()
		return state, nil
	}
	e.slots[index].Status = SlotLocked
	e.repopulateLocked()
	state := e.stateLocked()
	e.mu.Unlock()

	logger.Debug("[Grid] Locked", "index", index, "title", slot.Book.Title)
	e.mergeIntoGraph(*slot.Book)
	return state, nil
}

// Dismiss clears slot index and makes sure its book is never suggested
// again until the wall is reseeded.
func (e *Engine) Dismiss(index int) (State, error) {
	if err := checkIndex(index); err != nil {
		return State{}, err
	}

	e.mu.Lock()
	slot := e.slots[index]
	if slot.Status == SlotEmpty || slot.Book == nil {
		state := e.stateLocked()
		e.mu.Unlock()
		return state, nil
	}
	e.dismissed[identity(slot.Book.Title, slot.Book.Author)] = struct{}{}
	e.slots[index] = Slot{Index: index, Status: SlotEmpty}
	e.repopulateLocked()
	state := e.stateLocked()
	e.mu.Unlock()

	logger.Debug("[Grid] Dismissed", "index", index, "title", slot.Book.Title)
	return state, nil
}

// State returns a copy of the wall.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Wait blocks until all background population settled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) stateLocked() State {
	slots := make([]Slot, Size)
	for i, s := range e.slots {
		if s.Book != nil {
			b := *s.Book
			s.Book = &b
		}
		slots[i] = s
	}
	return State{
		Slots:     slots,
		Query:     e.query,
		IsSeeded:  e.seeded,
		IsLoading: e.inflight > 0,
		Status:    e.status,
	}
}

func (e *Engine) clearLocked() {
	for i := range e.slots {
		e.slots[i] = Slot{Index: i, Status: SlotEmpty}
	}
}

func (e *Engine) repopulateLocked() {
	gen := e.wall.Current()
	e.inflight++
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			e.inflight--
			e.mu.Unlock()
		}()
		e.populate(gen)
	}()
}

type assignment struct {
	slot int
	rec  ai.Recommendation
}

// populate asks for exactly as many recommendations as there are empty
// slots and fills them. Slots are assigned before any lookup starts so
// concurrent lookups never race for the same slot.
func (e *Engine) populate(gen uint64) {
	e.mu.Lock()
	liked, excluded, empty := e.promptInputsLocked()
	e.mu.Unlock()

	if len(liked) == 0 || len(empty) == 0 {
		return
	}

	var answer ai.RecommendationAnswer
	_, err := e.gen.Generate(e.ctx, ai.Request{
		Prompt:            ai.BuildRecommendationPrompt(liked, excluded, len(empty)),
		Mode:              ai.ModeSchema,
		SchemaName:        "book_recommendations",
		SchemaDescription: "Books recommended to a reader.",
		Out:               &answer,
		System:            []string{ai.AdvisorRole},
	})
	if err != nil {
		logger.Warn("[Grid] Recommendation request failed", "err", err)
		e.setStatus(gen, common.Caption(err))
		return
	}

	assignments := make([]assignment, 0, len(empty))
	for i, rec := range answer.Recommendations {
		if i >= len(empty) {
			break
		}
		if strings.TrimSpace(rec.Title) == "" {
			continue
		}
		assignments = append(assignments, assignment{slot: empty[i], rec: rec})
	}

	opts := e.retry
	opts.Name = "grid lookup"

	g, gCtx := errgroup.WithContext(e.ctx)
	g.SetLimit(e.parallel)
	for _, a := range assignments {
		g.Go(func() error {
			if !e.acceptable(gen, a.slot, a.rec.Title, a.rec.Author) {
				return nil
			}
			match, err := util.RetryWithBackoff(gCtx, opts, func(ctx context.Context) (*biblio.BookMatch, error) {
				return e.books.LookupBook(ctx, a.rec.Title, a.rec.Author)
			})
			if err != nil {
				logger.Debug("[Grid] Lookup failed", "title", a.rec.Title, "err", err)
				return nil
			}
			if match == nil {
				return nil
			}
			e.place(gen, a, match)
			return nil
		})
	}
	_ = g.Wait()
}

// promptInputsLocked collects the taste profile, the exclusion list and
// the empty slots in index order.
func (e *Engine) promptInputsLocked() (liked, excluded []string, empty []int) {
	for i, s := range e.slots {
		if s.Status == SlotEmpty || s.Book == nil {
			empty = append(empty, i)
			continue
		}
		line := describe(s.Book.Title, s.Book.Author)
		if s.Status == SlotLocked {
			liked = append(liked, line)
		}
		excluded = append(excluded, line)
	}
	for id := range e.dismissed {
		excluded = append(excluded, id)
	}
	return liked, excluded, empty
}

func (e *Engine) acceptable(gen uint64, slot int, title, author string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acceptableLocked(gen, slot, identity(title, author))
}

func (e *Engine) acceptableLocked(gen uint64, slot int, id string) bool {
	if !e.wall.IsCurrent(gen) || e.slots[slot].Status != SlotEmpty {
		return false
	}
	if _, ok := e.dismissed[id]; ok {
		return false
	}
	for _, s := range e.slots {
		if s.Book != nil && identity(s.Book.Title, s.Book.Author) == id {
			return false
		}
	}
	return true
}

func (e *Engine) place(gen uint64, a assignment, match *biblio.BookMatch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// the resolved book may differ from what was recommended
	if !e.acceptableLocked(gen, a.slot, identity(match.Title, match.Author)) {
		return
	}
	if _, ok := e.dismissed[identity(a.rec.Title, a.rec.Author)]; ok {
		return
	}
	e.slots[a.slot] = Slot{Index: a.slot, Status: SlotSuggested, Book: match, Reason: a.rec.Reason}
}

func (e *Engine) setStatus(gen uint64, caption string) {
	e.mu.Lock()
	current := e.wall.IsCurrent(gen)
	if current {
		e.status = caption
	}
	e.mu.Unlock()
	if current {
		e.notify(caption)
	}
}

// mergeIntoGraph adds a locked book and its author to the knowledge graph.
func (e *Engine) mergeIntoGraph(b biblio.BookMatch) {
	if e.store == nil {
		return
	}

	book := common.Entity{Label: b.Title, Type: string(common.NodeTypeBook)}
	if b.ExternalKey != "" {
		key := b.ExternalKey
		book.ExternalKey = &key
	}
	if b.CoverURL != "" {
		cover := b.CoverURL
		book.ImageURL = &cover
	}

	batch := graph.Batch{Entities: []common.Entity{book}}
	if author := strings.TrimSpace(b.Author); author != "" {
		batch.Entities = append(batch.Entities, common.Entity{Label: author, Type: string(common.NodeTypeAuthor)})
		batch.Edges = []common.EdgeRef{{Source: author, Target: b.Title}}
	}

	res := e.store.AddBatch(batch)
	if e.enricher != nil {
		if ids := res.EnrichIDs(); len(ids) > 0 {
			e.enricher.Enrich(ids...)
		}
	}
}

func checkIndex(index int) error {
	if index < 0 || index >= Size {
		return common.NewValidationError("index", fmt.Sprintf("must be between 0 and %d", Size-1))
	}
	return nil
}

// identity is the case and whitespace insensitive (title, author) key.
func identity(title, author string) string {
	return describe(common.NormalizeLabel(title), common.NormalizeLabel(author))
}

func describe(title, author string) string {
	if author == "" {
		return title
	}
	return title + " by " + author
}

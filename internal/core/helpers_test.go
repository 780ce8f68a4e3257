package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dispatch/internal/model"
	"dispatch/internal/storage"
)

// stubExecutor answers every request through respond. When gates has an
// entry for the URL, the call blocks until that channel is closed.
type stubExecutor struct {
	mu      sync.Mutex
	calls   []model.RequestDraft
	gates   map[string]chan struct{}
	respond func(req model.RequestDraft) model.ExchangeResult
}

func newStubExecutor(respond func(req model.RequestDraft) model.ExchangeResult) *stubExecutor {
	return &stubExecutor{gates: map[string]chan struct{}{}, respond: respond}
}

func (s *stubExecutor) gate(url string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[url] = ch
	return ch
}

func (s *stubExecutor) Execute(ctx context.Context, req model.RequestDraft) model.ExchangeResult {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	gate := s.gates[req.URL]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return s.respond(req)
}

func (s *stubExecutor) Calls() []model.RequestDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RequestDraft(nil), s.calls...)
}

func okResult(code uint16, body string) func(model.RequestDraft) model.ExchangeResult {
	return func(model.RequestDraft) model.ExchangeResult {
		return model.Success(model.Response{
			StatusCode:  code,
			StatusText:  statusText(code),
			HeadersText: "Content-Type: application/json\n",
			Body:        body,
			Elapsed:     10 * time.Millisecond,
			Size:        int64(len(body)),
		})
	}
}

func statusText(code uint16) string {
	switch code {
	case 200:
		return "OK"
	case 404:
		return "Not Found"
	}
	return ""
}

var errStoreDown = errors.New("store unavailable")

// memGateway is an in-memory Gateway with switchable failures.
type memGateway struct {
	mu          sync.Mutex
	nextID      int64
	history     []model.HistoryItem
	collections []model.Collection
	items       []model.CollectionItem

	failSave  bool
	failClear bool
	saves     int
}

func newMemGateway() *memGateway {
	return &memGateway{}
}

func (g *memGateway) id() int64 {
	g.nextID++
	return g.nextID
}

func (g *memGateway) SaveExchange(item model.HistoryItem) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSave {
		return 0, errStoreDown
	}
	g.saves++
	item.ID = g.id()
	g.history = append(g.history, item)
	return item.ID, nil
}

func (g *memGateway) GetHistory(limit int) ([]model.HistoryItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []model.HistoryItem{}
	for i := len(g.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.history[i])
	}
	return out, nil
}

func (g *memGateway) GetHistoryItem(id int64) (model.HistoryItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range g.history {
		if h.ID == id {
			return h, nil
		}
	}
	return model.HistoryItem{}, fmt.Errorf("history item %d: %w", id, storage.ErrNotFound)
}

func (g *memGateway) ClearHistory() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failClear {
		return errStoreDown
	}
	g.history = nil
	return nil
}

func (g *memGateway) CreateCollection(name string) (model.Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.collections {
		if c.Name == name {
			return model.Collection{}, storage.ErrDuplicateName
		}
	}
	c := model.Collection{ID: g.id(), Name: name}
	g.collections = append(g.collections, c)
	return c, nil
}

func (g *memGateway) GetCollections() ([]model.Collection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]model.Collection(nil), g.collections...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *memGateway) DeleteCollection(id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, c := range g.collections {
		if c.ID == id {
			g.collections = append(g.collections[:i], g.collections[i+1:]...)
			kept := g.items[:0]
			for _, it := range g.items {
				if it.CollectionID != id {
					kept = append(kept, it)
				}
			}
			g.items = kept
			return nil
		}
	}
	return storage.ErrNotFound
}

func (g *memGateway) SaveToCollection(item model.CollectionItem) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	item.ID = g.id()
	g.items = append(g.items, item)
	return item.ID, nil
}

func (g *memGateway) GetCollectionItems(collectionID int64) ([]model.CollectionItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []model.CollectionItem{}
	for _, it := range g.items {
		if it.CollectionID == collectionID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (g *memGateway) GetCollectionItem(id int64) (model.CollectionItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, it := range g.items {
		if it.ID == id {
			return it, nil
		}
	}
	return model.CollectionItem{}, storage.ErrNotFound
}

func (g *memGateway) historyLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history)
}

// startLoop runs a loop for the duration of the test.
func startLoop(t *testing.T, opts Options, gw Gateway, ex Executor, options ...LoopOption) *Loop {
	t.Helper()
	l := NewLoop(opts, gw, ex, options...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, l.Sync(testContext(t)))
	return l
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newSQLiteGateway(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dispatchAll(l *Loop, actions ...Action) {
	for _, a := range actions {
		l.Dispatch(a)
	}
}

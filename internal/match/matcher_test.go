package match

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/vector"
)

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	calls atomic.Int64
	vec   []float32
}

func (e *countingEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.vec, nil
}

type fakeIndex struct {
	mu       sync.Mutex
	upserts  int
	deletes  int
	queryRes map[string]any
}

func (f *fakeIndex) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"id": "id-" + body["name"].(string)})
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections/", func(w http.ResponseWriter, r *http.Request) {
		op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.mu.Lock()
		defer f.mu.Unlock()
		switch op {
		case "upsert":
			f.upserts++
			w.Write([]byte("{}"))
		case "delete":
			f.deletes++
			w.Write([]byte("{}"))
		case "query":
			resp := f.queryRes
			if resp == nil {
				resp = map[string]any{"ids": [][]string{}}
			}
			json.NewEncoder(w).Encode(resp)
		}
	})
	return mux
}

func newTestMatcher(t *testing.T, idx *fakeIndex, emb Embedder) (*Matcher, func()) {
	t.Helper()
	srv := httptest.NewServer(idx.handler())
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	svc := vector.NewService(vector.ServiceConfig{
		Host:     u.Hostname(),
		Port:     port,
		Tenant:   "default_tenant",
		Database: "default_database",
	})
	m := New(Config{Model: "nomic-embed-text"}, emb, svc)
	return m, srv.Close
}

func TestDistanceToScore(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{1, 0.5},
		{2, 0},
		{3, 0},  // floor clamp
		{-1, 1}, // ceiling clamp
	}
	for _, tt := range tests {
		if got := distanceToScore(tt.distance); got != tt.want {
			t.Errorf("distanceToScore(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestEmbedText_Cached(t *testing.T) {
	emb := &countingEmbedder{vec: []float32{0.1, 0.2}}
	m, closeSrv := newTestMatcher(t, &fakeIndex{}, emb)
	defer closeSrv()

	for i := 0; i < 3; i++ {
		if _, err := m.EmbedText(context.Background(), "same text"); err != nil {
			t.Fatal(err)
		}
	}
	if got := emb.calls.Load(); got != 1 {
		t.Errorf("embedder calls = %d, want 1 (cached)", got)
	}
}

func TestMatch_ScoresSortedAndBounded(t *testing.T) {
	idx := &fakeIndex{queryRes: map[string]any{
		"ids":       [][]string{{"HR", "Finance", "Legal"}},
		"distances": [][]float64{{1.4, 0.3, 2.8}},
		"metadatas": [][]map[string]any{{{"name": "HR"}, {"name": "Finance"}, {"name": "Legal"}}},
	}}
	emb := &countingEmbedder{vec: []float32{0.5}}
	m, closeSrv := newTestMatcher(t, idx, emb)
	defer closeSrv()

	got, err := m.Match(context.Background(), "payroll spreadsheet", 3)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, c := range got {
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("candidate %d score %v out of [0,1]", i, c.Score)
		}
		if i > 0 && got[i-1].Score < c.Score {
			t.Errorf("scores not sorted descending at %d: %v < %v", i, got[i-1].Score, c.Score)
		}
	}
	if got[0].Name != "Finance" {
		t.Errorf("top candidate = %q, want Finance", got[0].Name)
	}
}

func TestMatch_QueryCached(t *testing.T) {
	idx := &fakeIndex{queryRes: map[string]any{
		"ids":       [][]string{{"Finance"}},
		"distances": [][]float64{{0.5}},
	}}
	emb := &countingEmbedder{vec: []float32{0.5}}
	m, closeSrv := newTestMatcher(t, idx, emb)
	defer closeSrv()

	for i := 0; i < 3; i++ {
		if _, err := m.Match(context.Background(), "same query", 5); err != nil {
			t.Fatal(err)
		}
	}
	idx.mu.Lock()
	// One embed-backed query; the rest served from the query cache. The
	// embed cache also keeps the embedder at one call.
	if emb.calls.Load() != 1 {
		t.Errorf("embedder calls = %d, want 1", emb.calls.Load())
	}
	idx.mu.Unlock()
}

func TestSyncFolders_IncrementalAndRemoval(t *testing.T) {
	idx := &fakeIndex{}
	emb := &countingEmbedder{vec: []float32{0.1}}
	m, closeSrv := newTestMatcher(t, idx, emb)
	defer closeSrv()

	folders := []analyze.SmartFolder{
		{Name: "Finance", Description: "invoices and budgets"},
		{Name: "HR", Description: "people matters"},
	}
	if err := m.SyncFolders(context.Background(), folders); err != nil {
		t.Fatalf("SyncFolders: %v", err)
	}
	idx.mu.Lock()
	firstUpserts := idx.upserts
	idx.mu.Unlock()
	if firstUpserts == 0 {
		t.Fatal("no upserts on first sync")
	}

	// Same set again: nothing changed, nothing written.
	if err := m.SyncFolders(context.Background(), folders); err != nil {
		t.Fatal(err)
	}
	idx.mu.Lock()
	if idx.upserts != firstUpserts {
		t.Errorf("upserts = %d after no-op sync, want %d", idx.upserts, firstUpserts)
	}
	idx.mu.Unlock()

	// Remove HR: one delete, no new embeds needed.
	if err := m.SyncFolders(context.Background(), folders[:1]); err != nil {
		t.Fatal(err)
	}
	idx.mu.Lock()
	if idx.deletes != 1 {
		t.Errorf("deletes = %d, want 1", idx.deletes)
	}
	idx.mu.Unlock()
}

func TestSyncFolders_ConcurrentCallers(t *testing.T) {
	idx := &fakeIndex{}
	emb := &countingEmbedder{vec: []float32{0.1}}
	m, closeSrv := newTestMatcher(t, idx, emb)
	defer closeSrv()

	folders := []analyze.SmartFolder{
		{Name: "Finance", Description: "invoices and budgets"},
		{Name: "HR", Description: "people matters"},
	}

	// Every analysis refines through a sync of the same set; run a batch
	// of them in parallel under -race. Only the first should write.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.SyncFolders(context.Background(), folders); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (later syncs are no-ops)", idx.upserts)
	}
}

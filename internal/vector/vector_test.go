package vector

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
	"time"
)

// fakeIndex is a minimal Chroma-shaped HTTP server.
type fakeIndex struct {
	mu            sync.Mutex
	alive         atomic.Bool
	createCalls   atomic.Int64
	upserts       map[string][][]string // collection id → batches of ids
	queryResponse map[string]any
}

func newFakeIndex() *fakeIndex {
	f := &fakeIndex{upserts: make(map[string][][]string)}
	f.alive.Store(true)
	return f
}

func (f *fakeIndex) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if !f.alive.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"nanosecond heartbeat": 1}`))
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"id": "id-" + body["name"].(string)})
	})
	mux.HandleFunc("/api/v2/tenants/default_tenant/databases/default_database/collections/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		collID, op := parts[len(parts)-2], parts[len(parts)-1]
		switch op {
		case "upsert":
			var body struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.upserts[collID] = append(f.upserts[collID], body.IDs)
			f.mu.Unlock()
			w.Write([]byte("{}"))
		case "query":
			f.mu.Lock()
			resp := f.queryResponse
			f.mu.Unlock()
			if resp == nil {
				resp = map[string]any{"ids": [][]string{}}
			}
			json.NewEncoder(w).Encode(resp)
		case "delete":
			w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func newTestService(t *testing.T, srv *httptest.Server) *Service {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return NewService(ServiceConfig{
		Host:     u.Hostname(),
		Port:     port,
		Tenant:   "default_tenant",
		Database: "default_database",
	})
}

func TestReady_SingleInitialization(t *testing.T) {
	idx := newFakeIndex()
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Ready(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	// Exactly one init sequence: one create call per collection.
	if got := idx.createCalls.Load(); got != 2 {
		t.Errorf("collection create calls = %d, want 2", got)
	}
	if svc.State() != "initialized" {
		t.Errorf("State() = %q, want initialized", svc.State())
	}
}

func TestReady_FailureRevertsForRetry(t *testing.T) {
	idx := newFakeIndex()
	idx.alive.Store(false)
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)
	svc.cfg.InitTimeout = 300 * time.Millisecond

	if err := svc.Ready(context.Background()); err == nil {
		t.Fatal("Ready() = nil with index down, want error")
	}
	if svc.State() != "failed" {
		t.Errorf("State() = %q, want failed", svc.State())
	}

	// Index comes back; a later call must be allowed to retry.
	idx.alive.Store(true)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() after recovery: %v", err)
	}
}

func TestUpsert_SkipsMalformedRecords(t *testing.T) {
	idx := newFakeIndex()
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}

	skipped, err := svc.Client().Upsert(context.Background(), FileCollection, []Record{
		{ID: "good", Vector: []float32{0.1}},
		{ID: "", Vector: []float32{0.2}},
		{ID: "no-vector"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(skipped) != 2 {
		t.Errorf("skipped = %v, want 2 entries", skipped)
	}

	idx.mu.Lock()
	batches := idx.upserts["id-"+FileCollection]
	idx.mu.Unlock()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "good" {
		t.Errorf("upserted batches = %v, want one batch of [good]", batches)
	}
}

func TestQuery_MapsMatches(t *testing.T) {
	idx := newFakeIndex()
	idx.queryResponse = map[string]any{
		"ids":       [][]string{{"a", "b"}},
		"distances": [][]float64{{0.2, 0.9}},
		"documents": [][]string{{"doc a", "doc b"}},
		"metadatas": [][]map[string]any{{{"name": "Finance"}, {"name": "HR"}}},
	}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}

	matches, err := svc.Client().Query(context.Background(), FolderCollection, []float32{0.5}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ID != "a" || matches[0].Distance != 0.2 {
		t.Errorf("matches[0] = %+v", matches[0])
	}
	if matches[1].Meta["name"] != "HR" {
		t.Errorf("matches[1].Meta = %v", matches[1].Meta)
	}
}

func TestWriteback_FlushAndRequeueOffline(t *testing.T) {
	idx := newFakeIndex()
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)
	q := NewWritebackQueue(svc, 2, time.Hour, nil)

	q.Enqueue(Record{ID: "f1", Vector: []float32{0.1}})
	q.Enqueue(Record{ID: "f2", Vector: []float32{0.2}})

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after flush, want 0", q.Len())
	}

	// Index goes offline: the batch must be re-queued, not dropped.
	idx.alive.Store(false)
	svc.Shutdown() // force re-init on next Ready
	svc.cfg.InitTimeout = 200 * time.Millisecond
	q.Enqueue(Record{ID: "f3", Vector: []float32{0.3}})

	if err := q.Flush(context.Background()); err == nil {
		t.Fatal("Flush() = nil with index down, want error")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d after failed flush, want 1 (re-queued)", q.Len())
	}
}

func TestClient_ConcurrentCollectionResolution(t *testing.T) {
	idx := newFakeIndex()
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	svc := newTestService(t, srv)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}
	c := svc.Client()

	// Queries and upserts resolve collection ids while the health path
	// drops and re-resolves them. Run under -race.
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Query(context.Background(), FolderCollection, []float32{0.1}, 3); err != nil {
				t.Error(err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.forgetCollections()
			if _, err := c.EnsureCollection(context.Background(), FileCollection); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

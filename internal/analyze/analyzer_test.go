package analyze

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/sortd/internal/ollama"
)

type mockGenerator struct {
	mu        sync.Mutex
	calls     int32
	responses []string
	errs      []error
	delay     time.Duration
}

func (m *mockGenerator) Generate(ctx context.Context, model, prompt string, opts *ollama.Options, jsonMode bool) (string, error) {
	n := int(atomic.AddInt32(&m.calls, 1)) - 1
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < len(m.errs) && m.errs[n] != nil {
		return "", m.errs[n]
	}
	if n < len(m.responses) {
		return m.responses[n], nil
	}
	if len(m.responses) > 0 {
		return m.responses[len(m.responses)-1], nil
	}
	return "", errors.New("no response configured")
}

func testFile() FileInfo {
	return FileInfo{
		Path:    "/docs/invoice_2024.pdf",
		Name:    "invoice_2024.pdf",
		Ext:     ".pdf",
		Size:    1024,
		ModTime: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func testFolders() []SmartFolder {
	return []SmartFolder{
		{Name: "Finance", Description: "invoices, receipts, budgets"},
		{Name: "Legal"},
		{Name: "Projects"},
	}
}

func TestAnalyzeValidResponse(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		`{"category": "Finance", "keywords": ["invoice", "payment", "2024"], "confidence": 88, "suggestedName": "acme-invoice-2024", "purpose": "An invoice from Acme Corp.", "entities": ["Acme Corp"], "date": "2024-03-01"}`,
	}}
	a := New(Config{Model: "llama3.2"}, gen)

	res, err := a.Analyze(context.Background(), "Invoice #42 from Acme Corp", testFile(), testFolders())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Category != "Finance" {
		t.Errorf("category = %q, want Finance", res.Category)
	}
	if res.Confidence != 88 {
		t.Errorf("confidence = %d, want 88", res.Confidence)
	}
	if res.Date != "2024-03-01" {
		t.Errorf("date = %q, want 2024-03-01", res.Date)
	}
	if res.Error != "" {
		t.Errorf("unexpected error field %q", res.Error)
	}
}

func TestAnalyzeCaseInsensitiveCategory(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		`{"category": "finance", "keywords": ["invoice", "payment", "total"], "confidence": 80}`,
	}}
	a := New(Config{Model: "llama3.2"}, gen)

	res, err := a.Analyze(context.Background(), "some text", testFile(), testFolders())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Category != "Finance" {
		t.Errorf("category = %q, want exact folder name Finance", res.Category)
	}
}

func TestAnalyzeInventedCategoryRejected(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		`{"category": "Miscellaneous Stuff", "keywords": ["a", "bb", "ccc"], "confidence": 70}`,
	}}
	a := New(Config{Model: "llama3.2"}, gen)

	res, err := a.Analyze(context.Background(), "some text", testFile(), testFolders())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Category != "" {
		t.Errorf("category = %q, want empty for invented category", res.Category)
	}
}

func TestAnalyzeRetriesTransientFailure(t *testing.T) {
	gen := &mockGenerator{
		errs:      []error{errors.New("connection refused"), nil},
		responses: []string{"", `{"category": "Legal", "keywords": ["contract", "terms", "party"], "confidence": 75}`},
	}
	a := New(Config{Model: "llama3.2", Backoff: time.Millisecond}, gen)

	res, err := a.Analyze(context.Background(), "contract text", testFile(), testFolders())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Category != "Legal" {
		t.Errorf("category = %q, want Legal", res.Category)
	}
	if got := atomic.LoadInt32(&gen.calls); got != 2 {
		t.Errorf("generate calls = %d, want 2", got)
	}
}

func TestAnalyzeBackendUnavailable(t *testing.T) {
	gen := &mockGenerator{errs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}}
	a := New(Config{Model: "llama3.2", Retries: 2, Backoff: time.Millisecond}, gen)

	_, err := a.Analyze(context.Background(), "text", testFile(), nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if got := atomic.LoadInt32(&gen.calls); got != 3 {
		t.Errorf("generate calls = %d, want 3", got)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	gen := &mockGenerator{delay: 200 * time.Millisecond, responses: []string{"{}"}}
	a := New(Config{Model: "llama3.2", Timeout: 20 * time.Millisecond, Retries: -1}, gen)

	_, err := a.Analyze(context.Background(), "text", testFile(), nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestAnalyzeDegradesOnGarbage(t *testing.T) {
	gen := &mockGenerator{responses: []string{"I cannot classify this document, sorry."}}
	a := New(Config{Model: "llama3.2"}, gen)

	res, err := a.Analyze(context.Background(), "text", testFile(), testFolders())
	if err != nil {
		t.Fatalf("degraded output must not be an error, got %v", err)
	}
	if res.Confidence != 20 {
		t.Errorf("confidence = %d, want 20", res.Confidence)
	}
	if res.Category != DefaultCategory {
		t.Errorf("category = %q, want %q", res.Category, DefaultCategory)
	}
	if res.Error == "" {
		t.Error("degraded result should carry the cause")
	}
	if len(res.Keywords) == 0 {
		t.Error("degraded result should carry filename keywords")
	}
}

func TestAnalyzeDeduplicatesConcurrentRequests(t *testing.T) {
	gen := &mockGenerator{
		delay:     50 * time.Millisecond,
		responses: []string{`{"category": "Finance", "keywords": ["x", "yy", "zzz"], "confidence": 60}`},
	}
	a := New(Config{Model: "llama3.2"}, gen)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Analyze(context.Background(), "same text", testFile(), testFolders())
			if err != nil {
				t.Errorf("Analyze: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&gen.calls); got != 1 {
		t.Errorf("generate calls = %d, want 1 for identical concurrent requests", got)
	}
	for i := 1; i < n; i++ {
		if results[i].Category != results[0].Category {
			t.Errorf("result %d diverged: %q vs %q", i, results[i].Category, results[0].Category)
		}
	}
}

func TestRequestKeyFolderSensitivity(t *testing.T) {
	base := RequestKey("text", "m", []SmartFolder{{Name: "A"}, {Name: "B"}})

	if got := RequestKey("text", "m", []SmartFolder{{Name: "B"}, {Name: "A"}}); got != base {
		t.Error("folder order must not change the key")
	}
	if got := RequestKey("text", "m", []SmartFolder{{Name: "A"}, {Name: "B"}, {Name: "A"}}); got != base {
		t.Error("duplicate folders must not change the key")
	}
	if got := RequestKey("text", "m", []SmartFolder{{Name: "A"}, {Name: "C"}}); got == base {
		t.Error("different folder sets must change the key")
	}
	if got := RequestKey("other", "m", []SmartFolder{{Name: "A"}, {Name: "B"}}); got == base {
		t.Error("different text must change the key")
	}
}

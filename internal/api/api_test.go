package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/storage"
)

// --- mocks ---

type mockPipeline struct {
	res analyze.Result

	lastPath    string
	lastFolders []analyze.SmartFolder
}

func (m *mockPipeline) AnalyzeFile(_ context.Context, path string, folders []analyze.SmartFolder) analyze.Result {
	m.lastPath = path
	m.lastFolders = folders
	return m.res
}

type mockSuggester struct {
	matches []analyze.Candidate
	err     error
}

func (m *mockSuggester) Match(_ context.Context, _ string, _ int) ([]analyze.Candidate, error) {
	return m.matches, m.err
}

// --- helpers ---

func newTestDeps(t *testing.T) (AppDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return AppDeps{
		Pipeline: &mockPipeline{res: analyze.Result{Category: "Finance", Confidence: 80}},
		Matcher:  &mockSuggester{matches: []analyze.Candidate{{Name: "Finance", Score: 0.7}}},
		Store:    store,
	}, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- HTTP tests ---

func TestHealthz(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Status = func(context.Context) map[string]string {
		return map[string]string{"index": "initialized"}
	}
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["index"] != "initialized" {
		t.Errorf("body = %v", body)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/analyze", AnalyzeRequest{
		Path:    "/docs/budget.xlsx",
		Folders: []analyze.SmartFolder{{Name: "Finance"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res analyze.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Category != "Finance" || res.Confidence != 80 {
		t.Errorf("result = %+v", res)
	}

	mp := deps.Pipeline.(*mockPipeline)
	if mp.lastPath != "/docs/budget.xlsx" || len(mp.lastFolders) != 1 {
		t.Errorf("pipeline called with %q, %v", mp.lastPath, mp.lastFolders)
	}
}

func TestAnalyzeRequiresPath(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/analyze", AnalyzeRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyzeUsesFolderSource(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Folders = func(context.Context) []analyze.SmartFolder {
		return []analyze.SmartFolder{{Name: "Finance"}, {Name: "HR"}}
	}
	h := NewAppHandler(deps)

	doJSON(t, h, http.MethodPost, "/analyze", AnalyzeRequest{Path: "/docs/x.pdf"})

	mp := deps.Pipeline.(*mockPipeline)
	if len(mp.lastFolders) != 2 {
		t.Errorf("folders = %v, want the configured source's set", mp.lastFolders)
	}
}

func TestSuggestEndpoint(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/suggest", map[string]any{"text": "quarterly invoice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Matches []analyze.Candidate `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Matches) != 1 || body.Matches[0].Name != "Finance" {
		t.Errorf("matches = %v", body.Matches)
	}
}

func TestSuggestMatcherFailure(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Matcher = &mockSuggester{err: errors.New("index offline")}
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/suggest", map[string]any{"text": "x"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	deps, store := newTestDeps(t)
	h := NewAppHandler(deps)

	if err := store.Record(context.Background(), "/docs/a.pdf", analyze.Result{Category: "Legal", Confidence: 70}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/history?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Analyses []storage.Analysis `json:"analyses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Analyses) != 1 || body.Analyses[0].Category != "Legal" {
		t.Errorf("analyses = %+v", body.Analyses)
	}
}

func TestBearerAuth(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Token = "secret"
	h := NewAppHandler(deps)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", rec2.Code)
	}
}

// --- MCP tests ---

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestMCPTool_AnalyzeFile(t *testing.T) {
	deps := MCPDeps{Pipeline: &mockPipeline{res: analyze.Result{Category: "Finance", Confidence: 80}}}
	handler := mcpAnalyzeFile(deps)

	req := makeCallToolRequest("analyze_file", map[string]interface{}{
		"path":    "/docs/budget.xlsx",
		"folders": `[{"name":"Finance"},{"name":"HR"}]`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var res analyze.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Category != "Finance" {
		t.Errorf("category = %q", res.Category)
	}
}

func TestMCPTool_AnalyzeFileRequiresPath(t *testing.T) {
	deps := MCPDeps{Pipeline: &mockPipeline{}}
	handler := mcpAnalyzeFile(deps)

	result, err := handler(context.Background(), makeCallToolRequest("analyze_file", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing path")
	}
}

func TestMCPTool_SuggestFolders(t *testing.T) {
	deps := MCPDeps{
		Pipeline: &mockPipeline{},
		Matcher:  &mockSuggester{matches: []analyze.Candidate{{Name: "Finance", Score: 0.7}}},
	}
	handler := mcpSuggestFolders(deps)

	result, err := handler(context.Background(), makeCallToolRequest("suggest_folders", map[string]interface{}{
		"text": "quarterly invoice totals",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var matches []analyze.Candidate
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("decoding matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "Finance" {
		t.Errorf("matches = %v", matches)
	}
}

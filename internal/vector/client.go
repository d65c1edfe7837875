// Package vector manages the local vector index: a Chroma-compatible
// process reached over HTTP, its lifecycle, and a write-back queue that
// batches file-vector persistence off the latency-sensitive query path.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Record is one vector with its identifying metadata. Meta travels opaque
// to the index and is returned verbatim on query.
type Record struct {
	ID        string
	Vector    []float32
	Document  string
	Meta      map[string]any
	UpdatedAt time.Time
}

// Match is one nearest-neighbor result. Distance is in the cosine space
// configured at collection creation, so it falls in [0, 2].
type Match struct {
	ID       string
	Distance float64
	Document string
	Meta     map[string]any
}

// Client talks to a Chroma-compatible HTTP API, scoped to one
// tenant/database pair.
type Client struct {
	baseURL    string
	tenant     string
	database   string
	httpClient *http.Client

	// collMu guards collections: the health loop re-resolves ids while
	// query and write-back goroutines read them.
	collMu sync.Mutex
	// collection name → resolved collection id
	collections map[string]string
}

// NewClient creates a Client for the index at baseURL.
func NewClient(baseURL, tenant, database string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tenant:      tenant,
		database:    database,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		collections: make(map[string]string),
	}
}

// Heartbeat reports whether the index process answers its liveness endpoint.
func (c *Client) Heartbeat(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/heartbeat", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) collectionsURL() string {
	return fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s/collections", c.baseURL, c.tenant, c.database)
}

// EnsureCollection resolves (creating if needed) the named collection and
// caches its id. Collections are created in cosine space; the similarity
// score mapping elsewhere depends on distances in [0, 2].
func (c *Client) EnsureCollection(ctx context.Context, name string) (string, error) {
	c.collMu.Lock()
	id, ok := c.collections[name]
	c.collMu.Unlock()
	if ok {
		return id, nil
	}

	body := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, c.collectionsURL(), body, &out); err != nil {
		return "", fmt.Errorf("ensuring collection %s: %w", name, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("ensuring collection %s: empty id in response", name)
	}
	c.collMu.Lock()
	c.collections[name] = out.ID
	c.collMu.Unlock()
	return out.ID, nil
}

// forgetCollections drops cached collection ids, forcing re-resolution
// after a reinitialization.
func (c *Client) forgetCollections() {
	c.collMu.Lock()
	clear(c.collections)
	c.collMu.Unlock()
}

// Upsert writes records into the named collection. Malformed records
// (missing id or empty vector) are skipped and reported back by id/index so
// one bad record never aborts the batch.
func (c *Client) Upsert(ctx context.Context, collection string, records []Record) (skipped []string, err error) {
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	var ids []string
	var embeddings [][]float32
	var documents []string
	var metadatas []map[string]any
	for i, r := range records {
		if r.ID == "" || len(r.Vector) == 0 {
			if r.ID == "" {
				skipped = append(skipped, fmt.Sprintf("record[%d]", i))
			} else {
				skipped = append(skipped, r.ID)
			}
			continue
		}
		ids = append(ids, r.ID)
		embeddings = append(embeddings, r.Vector)
		documents = append(documents, r.Document)
		meta := r.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		metadatas = append(metadatas, meta)
	}
	if len(ids) == 0 {
		return skipped, nil
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	if err := c.post(ctx, c.collectionsURL()+"/"+id+"/upsert", body, nil); err != nil {
		return skipped, fmt.Errorf("upserting %d records into %s: %w", len(ids), collection, err)
	}
	return skipped, nil
}

// Query returns the topK nearest records to the given vector.
func (c *Client) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        topK,
		"include":          []string{"distances", "documents", "metadatas"},
	}
	var out struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float64        `json:"distances"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	if err := c.post(ctx, c.collectionsURL()+"/"+id+"/query", body, &out); err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	if len(out.IDs) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(out.IDs[0]))
	for i, mid := range out.IDs[0] {
		m := Match{ID: mid}
		if len(out.Distances) > 0 && i < len(out.Distances[0]) {
			m.Distance = out.Distances[0][i]
		}
		if len(out.Documents) > 0 && i < len(out.Documents[0]) {
			m.Document = out.Documents[0][i]
		}
		if len(out.Metadatas) > 0 && i < len(out.Metadatas[0]) {
			m.Meta = out.Metadatas[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes records by id from the named collection.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := c.EnsureCollection(ctx, collection)
	if err != nil {
		return err
	}
	body := map[string]any{"ids": ids}
	if err := c.post(ctx, c.collectionsURL()+"/"+id+"/delete", body, nil); err != nil {
		return fmt.Errorf("deleting %d records from %s: %w", len(ids), collection, err)
	}
	return nil
}

// Reset drops the named collection entirely.
func (c *Client) Reset(ctx context.Context, collection string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.collectionsURL()+"/"+collection, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resetting collection %s: %w", collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("reset %s: unexpected status %d", collection, resp.StatusCode)
	}
	c.collMu.Lock()
	delete(c.collections, collection)
	c.collMu.Unlock()
	return nil
}

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

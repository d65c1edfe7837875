// Package match ranks smart folders by embedding similarity to a file's
// content summary, against the live folder-vector index.
package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/cache"
	"github.com/kalambet/sortd/internal/vector"
)

// Embedder turns text into a vector using a named model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// embedConcurrency bounds parallel embedding calls during a folder rebuild
// so the backend isn't overwhelmed, while large folder sets still avoid a
// strictly sequential pass.
const embedConcurrency = 4

// Config tunes the Matcher.
type Config struct {
	Model string
	// EmbedCacheSize bounds the (text, model) → vector cache.
	EmbedCacheSize int
	// QueryCacheSize and QueryCacheTTL bound the short-lived match cache.
	QueryCacheSize int
	QueryCacheTTL  time.Duration
	// EmbedTimeout bounds one embedding call.
	EmbedTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.EmbedCacheSize <= 0 {
		c.EmbedCacheSize = 2048
	}
	if c.QueryCacheSize <= 0 {
		c.QueryCacheSize = 256
	}
	if c.QueryCacheTTL <= 0 {
		c.QueryCacheTTL = 30 * time.Second
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Matcher owns the folder-vector collection and the embedding and query
// caches.
type Matcher struct {
	cfg      Config
	embedder Embedder
	svc      *vector.Service
	logger   *slog.Logger

	embedCache *cache.Cache[string, []float32]
	queryCache *cache.Cache[string, []analyze.Candidate]

	// syncMu serializes SyncFolders: concurrent analyses all call it on
	// their refinement path, and synced must not be read mid-rebuild.
	syncMu sync.Mutex
	// synced maps folder name → hash of the text last embedded for it, so
	// a rebuild re-embeds only changed folders and deletes removed ones.
	synced map[string]string
}

// New creates a Matcher using the given embedder and index service.
func New(cfg Config, embedder Embedder, svc *vector.Service) *Matcher {
	cfg.defaults()
	return &Matcher{
		cfg:        cfg,
		embedder:   embedder,
		svc:        svc,
		logger:     cfg.Logger.With("component", "match"),
		embedCache: cache.New[string, []float32](cfg.EmbedCacheSize, 0),
		queryCache: cache.New[string, []analyze.Candidate](cfg.QueryCacheSize, cfg.QueryCacheTTL),
		synced:     make(map[string]string),
	}
}

// EmbedText returns the embedding for text, memoized by (text, model).
func (m *Matcher) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := embedKey(m.cfg.Model, text)
	if vec, ok := m.embedCache.Get(key); ok {
		return vec, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.EmbedTimeout)
	defer cancel()
	vec, err := m.embedder.Embed(ctx, m.cfg.Model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	m.embedCache.Set(key, vec)
	return vec, nil
}

// SyncFolders rebuilds the folder-vector collection for the supplied set.
// Unchanged folders keep their vectors, changed ones are re-embedded with
// bounded concurrency, and removed ones are deleted. Any write invalidates
// the query cache.
func (m *Matcher) SyncFolders(ctx context.Context, folders []analyze.SmartFolder) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	if err := m.svc.Ready(ctx); err != nil {
		return err
	}

	type job struct {
		folder analyze.SmartFolder
		text   string
	}
	var jobs []job
	current := make(map[string]bool, len(folders))
	for _, f := range folders {
		if f.Name == "" {
			continue
		}
		current[f.Name] = true
		text := folderText(f)
		if m.synced[f.Name] == hashText(text) {
			continue
		}
		jobs = append(jobs, job{folder: f, text: text})
	}

	records := make([]vector.Record, len(jobs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			vec, err := m.EmbedText(gCtx, j.text)
			if err != nil {
				return fmt.Errorf("embedding folder %s: %w", j.folder.Name, err)
			}
			records[i] = vector.Record{
				ID:       j.folder.Name,
				Vector:   vec,
				Document: j.text,
				Meta: map[string]any{
					"name": j.folder.Name,
					"path": j.folder.Path,
				},
				UpdatedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var removed []string
	for name := range m.synced {
		if !current[name] {
			removed = append(removed, name)
		}
	}

	wrote := false
	if len(records) > 0 {
		skipped, err := m.svc.Client().Upsert(ctx, vector.FolderCollection, records)
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			m.logger.Warn("folder sync skipped malformed records", "skipped", skipped)
		}
		for _, j := range jobs {
			m.synced[j.folder.Name] = hashText(j.text)
		}
		wrote = true
	}
	if len(removed) > 0 {
		if err := m.svc.Client().Delete(ctx, vector.FolderCollection, removed); err != nil {
			return err
		}
		for _, name := range removed {
			delete(m.synced, name)
		}
		wrote = true
	}

	if wrote {
		m.queryCache.Purge()
		m.logger.Info("folder vectors synced", "embedded", len(records), "removed", len(removed))
	}
	return nil
}

// Match embeds the text and returns ranked folder candidates with scores in
// [0, 1], sorted descending. Results are cached briefly per (text, topK).
func (m *Matcher) Match(ctx context.Context, text string, topK int) ([]analyze.Candidate, error) {
	if topK <= 0 {
		topK = 5
	}
	key := fmt.Sprintf("%s|%d", hashText(m.cfg.Model+"\x00"+text), topK)
	if cached, ok := m.queryCache.Get(key); ok {
		return cached, nil
	}

	if err := m.svc.Ready(ctx); err != nil {
		return nil, err
	}
	vec, err := m.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	matches, err := m.svc.Client().Query(ctx, vector.FolderCollection, vec, topK)
	if err != nil {
		return nil, err
	}

	candidates := make([]analyze.Candidate, 0, len(matches))
	for _, match := range matches {
		name := match.ID
		if n, ok := match.Meta["name"].(string); ok && n != "" {
			name = n
		}
		candidates = append(candidates, analyze.Candidate{
			Name:  name,
			Score: distanceToScore(match.Distance),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	m.queryCache.Set(key, candidates)
	return candidates, nil
}

// InvalidateQueries drops cached match results. The pipeline calls this
// after enqueueing a file-vector write so stale rankings aren't served.
func (m *Matcher) InvalidateQueries() {
	m.queryCache.Purge()
}

// EmbedCacheLen reports the embedding cache size, for diagnostics.
func (m *Matcher) EmbedCacheLen() int { return m.embedCache.Len() }

// distanceToScore maps a cosine distance in [0, 2] to a similarity score in
// [0, 1], floor-clamped so out-of-range distances never go negative.
func distanceToScore(d float64) float64 {
	s := 1 - d/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// folderText is the canonical embedding text for a folder.
func folderText(f analyze.SmartFolder) string {
	parts := []string{f.Name}
	if f.Description != "" {
		parts = append(parts, f.Description)
	}
	if len(f.Keywords) > 0 {
		parts = append(parts, strings.Join(f.Keywords, " "))
	}
	if len(f.Tags) > 0 {
		parts = append(parts, strings.Join(f.Tags, " "))
	}
	return strings.Join(parts, ". ")
}

func embedKey(model, text string) string {
	return model + "\x00" + hashText(text)
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

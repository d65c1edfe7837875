// Package pipeline sequences one file's analysis: cache lookup, backend
// preflight, content extraction, model classification, folder refinement,
// and cache write-back. Its contract is "always return a result": every
// failure degrades to the filename heuristic branch instead of surfacing.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/cache"
	"github.com/kalambet/sortd/internal/extract"
	"github.com/kalambet/sortd/internal/heuristics"
	"github.com/kalambet/sortd/internal/vector"
)

// schemaVersion tags cache keys; bump it when the Result shape changes so
// old entries miss instead of deserializing into the wrong shape.
const schemaVersion = "v1"

// Extractor is the slice of the content extractor the pipeline needs.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Result, error)
}

// Analyzer classifies extracted text via the generation backend.
type Analyzer interface {
	Analyze(ctx context.Context, text string, file analyze.FileInfo, folders []analyze.SmartFolder) (analyze.Result, error)
}

// Matcher ranks folder candidates and produces file embeddings for the
// write-back path. Optional: a nil Matcher disables refinement.
type Matcher interface {
	SyncFolders(ctx context.Context, folders []analyze.SmartFolder) error
	Match(ctx context.Context, text string, topK int) ([]analyze.Candidate, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	InvalidateQueries()
}

// Backend is the liveness probe used by the preflight check.
type Backend interface {
	IsRunning(ctx context.Context) bool
}

// Enqueuer accepts vector records for deferred index persistence.
type Enqueuer interface {
	Enqueue(r vector.Record)
}

// Recorder persists finished results for history. Optional and best-effort.
type Recorder interface {
	Record(ctx context.Context, path string, res analyze.Result) error
}

// Config tunes the pipeline.
type Config struct {
	Model string
	// OverrideThreshold is the minimum match score at which the top folder
	// candidate replaces the model's own category.
	OverrideThreshold float64
	// TopK is how many folder candidates refinement requests.
	TopK int
	// EmbedLimit caps the text embedded for the write-back record, in runes.
	EmbedLimit int
	CacheSize  int
	CacheTTL   time.Duration
	// PreflightRetries and PreflightDelay bound the liveness probe budget.
	PreflightRetries int
	PreflightDelay   time.Duration
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if c.OverrideThreshold <= 0 {
		c.OverrideThreshold = 0.55
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.EmbedLimit <= 0 {
		c.EmbedLimit = 2000
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.PreflightRetries < 0 {
		c.PreflightRetries = 0
	} else if c.PreflightRetries == 0 {
		c.PreflightRetries = 2
	}
	if c.PreflightDelay <= 0 {
		c.PreflightDelay = 300 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Deps are the pipeline's collaborators. Extractor, Analyzer, Backend, and
// Heuristics are required; the rest degrade gracefully when nil.
type Deps struct {
	Extractor  Extractor
	Analyzer   Analyzer
	Matcher    Matcher
	Backend    Backend
	Heuristics *heuristics.Classifier
	Queue      Enqueuer
	History    Recorder
}

// Pipeline is the per-file orchestrator.
type Pipeline struct {
	cfg    Config
	deps   Deps
	cache  *cache.Cache[string, analyze.Result]
	logger *slog.Logger
}

// New composes a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		cache:  cache.New[string, analyze.Result](cfg.CacheSize, cfg.CacheTTL),
		logger: cfg.Logger.With("component", "pipeline"),
	}
}

// AnalyzeFile runs the full pipeline for one file. It never returns an
// error: backend outages, extraction failures, and model garbage all
// resolve to a heuristic result whose fields explain what degraded.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string, folders []analyze.SmartFolder) analyze.Result {
	file, err := statFile(path)
	if err != nil {
		p.logger.Warn("stat failed, classifying by name only", "path", path, "error", err)
		res := p.fallback(fileInfoFromPath(path), folders, fmt.Sprintf("file unreadable: %v", err))
		return p.finish(ctx, path, res)
	}

	// Audio and video carry no extractable text; the heuristic branch is
	// the whole pipeline for them.
	if heuristics.IsMedia(file.Ext) {
		res := p.fallback(file, folders, "")
		return p.finish(ctx, path, res)
	}

	key := cacheKey(p.cfg.Model, file, folders)
	if res, ok := p.cache.Get(key); ok {
		p.logger.Debug("cache hit", "path", path)
		return res
	}

	if !p.preflight(ctx) {
		p.logger.Info("backend unreachable, falling back to heuristics", "path", path)
		res := p.fallback(file, folders, analyze.ErrBackendUnavailable.Error())
		return p.finish(ctx, path, res)
	}

	extracted, err := p.deps.Extractor.Extract(ctx, path)
	if err != nil {
		res := p.fallback(file, folders, "")
		if xe, ok := extract.AsError(err); ok {
			res.ExtractionError = xe.Error()
		} else {
			res.ExtractionError = err.Error()
		}
		p.logger.Warn("extraction failed, falling back to heuristics", "path", path, "error", err)
		return p.finish(ctx, path, res)
	}

	res, err := p.deps.Analyzer.Analyze(ctx, extracted.Text, file, folders)
	if err != nil {
		p.logger.Warn("analysis failed, falling back to heuristics", "path", path, "error", err)
		fb := p.fallback(file, folders, err.Error())
		fb.ExtractionMethod = extracted.Method
		return p.finish(ctx, path, fb)
	}
	res.ExtractionMethod = extracted.Method

	p.refine(ctx, extracted.Text, folders, &res)

	if res.Category == "" {
		// The model invented a label and no candidate scored high enough.
		res.Category = p.deps.Heuristics.Classify(file.Name, folders).Category
	}
	if res.Date == "" {
		res.Date = file.ModTime.Format("2006-01-02")
	}

	if res.Error == "" && fileUnchanged(path, file) {
		p.cache.Set(key, res)
	}

	p.writeBack(ctx, path, extracted.Text, res)
	return p.finish(ctx, path, res)
}

// preflight probes backend liveness within a short retry budget so an
// offline backend short-circuits before any extraction work.
func (p *Pipeline) preflight(ctx context.Context) bool {
	for attempt := 0; attempt <= p.cfg.PreflightRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.PreflightDelay):
			case <-ctx.Done():
				return false
			}
		}
		if p.deps.Backend.IsRunning(ctx) {
			return true
		}
	}
	return false
}

// refine asks the matcher for ranked folder candidates and overrides the
// model's category only on a strong winner. Refinement is an enhancement:
// every error is logged and swallowed, leaving the result intact.
func (p *Pipeline) refine(ctx context.Context, text string, folders []analyze.SmartFolder, res *analyze.Result) {
	if p.deps.Matcher == nil || len(folders) == 0 || strings.TrimSpace(text) == "" {
		return
	}
	// Bring the folder collection up to date with the supplied set before
	// querying it. The sync is incremental, so an unchanged set is a no-op.
	// On failure the query still runs against whatever vectors exist.
	if err := p.deps.Matcher.SyncFolders(ctx, folders); err != nil {
		p.logger.Warn("folder vector sync failed", "error", err)
	}
	matches, err := p.deps.Matcher.Match(ctx, capRunes(text, p.cfg.EmbedLimit), p.cfg.TopK)
	if err != nil {
		p.logger.Warn("folder refinement failed", "error", err)
		return
	}
	res.Matches = matches
	if len(matches) == 0 {
		return
	}
	best := matches[0]
	if best.Score >= p.cfg.OverrideThreshold && !strings.EqualFold(best.Name, res.Category) {
		p.logger.Debug("match override", "from", res.Category, "to", best.Name, "score", best.Score)
		res.Category = best.Name
	}
	if res.Category == "" && best.Score >= p.cfg.OverrideThreshold {
		res.Category = best.Name
	}
}

// writeBack emits the file's vector for deferred index persistence and
// drops stale ranked-match entries. Best-effort: an embedding failure here
// never degrades the already-computed result.
func (p *Pipeline) writeBack(ctx context.Context, path, text string, res analyze.Result) {
	if p.deps.Queue == nil || p.deps.Matcher == nil || strings.TrimSpace(text) == "" {
		return
	}
	vec, err := p.deps.Matcher.EmbedText(ctx, capRunes(text, p.cfg.EmbedLimit))
	if err != nil {
		p.logger.Debug("write-back embedding failed", "path", path, "error", err)
		return
	}
	p.deps.Queue.Enqueue(vector.Record{
		ID:       fileID(path),
		Vector:   vec,
		Document: res.Purpose,
		Meta: map[string]any{
			"path":     path,
			"category": res.Category,
			"model":    p.cfg.Model,
		},
		UpdatedAt: time.Now(),
	})
	p.deps.Matcher.InvalidateQueries()
}

// finish records history and returns. Recording is best-effort.
func (p *Pipeline) finish(ctx context.Context, path string, res analyze.Result) analyze.Result {
	if p.deps.History != nil {
		if err := p.deps.History.Record(ctx, path, res); err != nil {
			p.logger.Warn("history record failed", "path", path, "error", err)
		}
	}
	return res
}

// fallback produces the heuristic-only result, tagged so callers can see
// nothing was read from the file's content.
func (p *Pipeline) fallback(file analyze.FileInfo, folders []analyze.SmartFolder, cause string) analyze.Result {
	res := p.deps.Heuristics.Classify(file.Name, folders)
	res.ExtractionMethod = extract.MethodFilenameOnly
	res.Error = cause
	if !file.ModTime.IsZero() {
		res.Date = file.ModTime.Format("2006-01-02")
	}
	return res
}

// CachePurge drops all cached results. Callers use it when the folder
// configuration changes wholesale.
func (p *Pipeline) CachePurge() {
	p.cache.Purge()
}

// CacheLen reports the number of live cached results.
func (p *Pipeline) CacheLen() int {
	return p.cache.Len()
}

func statFile(path string) (analyze.FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return analyze.FileInfo{}, err
	}
	return analyze.FileInfo{
		Path:    path,
		Name:    filepath.Base(path),
		Ext:     strings.ToLower(filepath.Ext(path)),
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}, nil
}

func fileInfoFromPath(path string) analyze.FileInfo {
	return analyze.FileInfo{
		Path: path,
		Name: filepath.Base(path),
		Ext:  strings.ToLower(filepath.Ext(path)),
	}
}

// fileUnchanged re-verifies size and mtime post-analysis. A file edited
// mid-analysis still gets its result returned, but the result is not
// cached under the pre-edit signature.
func fileUnchanged(path string, file analyze.FileInfo) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Size() == file.Size && st.ModTime().Equal(file.ModTime)
}

// cacheKey combines schema version, model, folder signature, path, size,
// and mtime. Any change to the folder set, the model, or the file on disk
// produces a different key, so stale entries miss instead of being served.
func cacheKey(model string, file analyze.FileInfo, folders []analyze.SmartFolder) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%d",
		schemaVersion, model, analyze.FolderSignature(folders),
		file.Path, file.Size, file.ModTime.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// fileID is the stable write-back id for a path: upserts under the same id
// fully replace the previous record, keeping last-write-wins semantics.
func fileID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "file-" + hex.EncodeToString(sum[:16])
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

package analyze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/sortd/internal/ollama"
)

// Generator is the slice of the backend client the analyzer needs.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts *ollama.Options, jsonMode bool) (string, error)
}

// Config tunes the Analyzer.
type Config struct {
	Model string
	// Timeout is the hard budget for one generation call including retries.
	Timeout time.Duration
	// Retries is the number of additional attempts on transient failure.
	Retries int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
	// TextLimit caps the extracted text included in the prompt, in runes.
	TextLimit int
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.TextLimit <= 0 {
		c.TextLimit = 8000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Analyzer turns extracted text into a classification via the generation
// backend. Identical in-flight requests are deduplicated: concurrent calls
// with the same content, model, and folder set share one backend
// invocation and observe the same result.
type Analyzer struct {
	cfg    Config
	gen    Generator
	group  singleflight.Group
	logger *slog.Logger
}

// New creates an Analyzer.
func New(cfg Config, gen Generator) *Analyzer {
	cfg.defaults()
	return &Analyzer{
		cfg:    cfg,
		gen:    gen,
		logger: cfg.Logger.With("component", "analyze"),
	}
}

// Analyze classifies the text. Model-level failures never surface as
// errors: unparsable or structurally invalid output degrades to a fixed
// low-confidence result. A non-nil error means the backend itself was
// unreachable or timed out, and the caller should take the heuristic path.
func (a *Analyzer) Analyze(ctx context.Context, text string, file FileInfo, folders []SmartFolder) (Result, error) {
	key := RequestKey(text, a.cfg.Model, folders)

	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.analyzeOnce(ctx, text, file, folders)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (a *Analyzer) analyzeOnce(ctx context.Context, text string, file FileInfo, folders []SmartFolder) (Result, error) {
	prompt := BuildPrompt(capRunes(text, a.cfg.TextLimit), file.Name, folders)
	opts := &ollama.Options{Temperature: 0.1}

	raw, err := withDeadline(ctx, a.cfg.Timeout, func(ctx context.Context) (string, error) {
		return a.generateWithRetry(ctx, prompt, opts)
	})
	if err != nil {
		return Result{}, err
	}

	obj, err := parseModelJSON(raw)
	if err != nil {
		a.logger.Warn("model output unparsable, degrading", "file", file.Name, "error", err)
		return degradedResult(file, err), nil
	}

	res, ok := normalizeResult(obj, file, folders)
	if !ok {
		a.logger.Warn("model output structurally invalid, degrading", "file", file.Name)
		return degradedResult(file, ErrParse), nil
	}
	return res, nil
}

// generateWithRetry retries transient generation failures with doubling
// backoff. Context expiry stops the loop immediately.
func (a *Analyzer) generateWithRetry(ctx context.Context, prompt string, opts *ollama.Options) (string, error) {
	var lastErr error
	delay := a.cfg.Backoff
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		raw, err := a.gen.Generate(ctx, a.cfg.Model, prompt, opts, true)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		a.logger.Debug("generation attempt failed", "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, lastErr)
}

// degradedResult is the fixed low-confidence result used when the model
// answered but its output could not be used.
func degradedResult(file FileInfo, cause error) Result {
	return Result{
		Category:   DefaultCategory,
		Keywords:   filenameKeywords(file.Name, 3),
		Confidence: 20,
		Date:       file.ModTime.Format("2006-01-02"),
		Error:      cause.Error(),
	}
}

// RequestKey is the deduplication and cache key material for one analysis
// request: content hash, model, and the canonicalized folder signature.
func RequestKey(text, model string, folders []SmartFolder) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(FolderSignature(folders)))
	return hex.EncodeToString(h.Sum(nil))
}

// FolderSignature canonicalizes a folder set: sorted, deduplicated names.
// Any change to the active folder set changes the signature.
func FolderSignature(folders []SmartFolder) string {
	names := make([]string, 0, len(folders))
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return strings.Join(names, "\x1f")
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

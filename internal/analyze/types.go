// Package analyze produces structured classifications from extracted text
// via the local generation backend. It owns the data contract every branch
// of the pipeline converges to.
package analyze

import (
	"errors"
	"time"

	"github.com/kalambet/sortd/internal/extract"
)

// SmartFolder is a user-defined target category. Name is the unique match
// key; folders are supplied per call by the folder-configuration
// collaborator and never persisted here.
type SmartFolder struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Candidate is one ranked folder match with a similarity score in [0, 1].
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the classification contract. When folders were supplied,
// Category equals exactly one supplied folder name; otherwise it falls back
// to a built-in default. Confidence is 0–100.
type Result struct {
	Category         string         `json:"category"`
	Keywords         []string       `json:"keywords"`
	Confidence       int            `json:"confidence"`
	SuggestedName    string         `json:"suggestedName,omitempty"`
	Purpose          string         `json:"purpose,omitempty"`
	Entities         []string       `json:"entities,omitempty"`
	Date             string         `json:"date,omitempty"`
	Matches          []Candidate    `json:"matches,omitempty"`
	ExtractionMethod extract.Method `json:"extractionMethod,omitempty"`
	Error            string         `json:"error,omitempty"`
	ExtractionError  string         `json:"extractionError,omitempty"`
}

// DefaultCategory is used when no folder wins and no heuristic table matches.
const DefaultCategory = "Documents"

// Sentinel errors for the backend call taxonomy. Model-level failures never
// escape Analyze as errors; these classify the degraded result's cause.
var (
	ErrBackendUnavailable = errors.New("analysis backend unreachable")
	ErrParse              = errors.New("model output unparsable")
	ErrTimeout            = errors.New("analysis call timed out")
)

// FileInfo is the immutable snapshot of the file under analysis, taken once
// per attempt. It feeds the prompt (name, modification date) and the cache
// signature.
type FileInfo struct {
	Path    string
	Name    string
	Ext     string
	Size    int64
	ModTime time.Time
}

package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Index   IndexConfig
	Storage StorageConfig
	Analyze AnalyzeConfig
	Extract ExtractConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	TextModel  string
	EmbedModel string
}

// IndexConfig describes how to reach (or spawn) the local vector index process.
// Binary may be empty, in which case sortd attaches to an already-running
// instance at Host:Port and never manages the process itself.
type IndexConfig struct {
	Host   string
	Port   int
	Binary string
	Tenant string
	DB     string
}

type StorageConfig struct {
	DataDir string
}

type AnalyzeConfig struct {
	// OverrideThreshold is the minimum folder-match score at which the
	// embedding match replaces the model's own category choice.
	OverrideThreshold float64
	// MinHeuristicScore is the minimum weighted filename-match score for a
	// folder to win in the fallback classifier.
	MinHeuristicScore int
	// TextLimit is the maximum number of runes of extracted text sent to
	// the model.
	TextLimit int
}

type ExtractConfig struct {
	// MaxFileSize is the generic per-file size precheck in bytes.
	MaxFileSize int64
	// MaxPDFSize is the size precheck for PDFs, which stream page by page.
	MaxPDFSize int64
	// MaxOCRSize bounds which scanned PDFs and images are OCR-eligible.
	MaxOCRSize int64
	// OCRBinary is the tesseract executable. Empty disables OCR; "tesseract"
	// resolves through PATH at composition time.
	OCRBinary string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4400,
			MCPPort: 4401,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			TextModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Index: IndexConfig{
			Host:   "127.0.0.1",
			Port:   8800,
			Binary: "chroma",
			Tenant: "default_tenant",
			DB:     "default_database",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Analyze: AnalyzeConfig{
			OverrideThreshold: 0.55,
			MinHeuristicScore: 5,
			TextLimit:         8000,
		},
		Extract: ExtractConfig{
			MaxFileSize: 50 << 20,
			MaxPDFSize:  100 << 20,
			MaxOCRSize:  20 << 20,
			OCRBinary:   "tesseract",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/sortd/config.json, then applies SORTD_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sortd-data"
		}
	}
	return filepath.Join(dir, "sortd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sortd", "config.json")
}

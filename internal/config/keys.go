package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
	kFloat
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SORTD_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "SORTD_SERVER_MCP_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SORTD_OLLAMA_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		key: "ollama.text_model", typ: kString, env: "SORTD_OLLAMA_TEXT_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.TextModel = v.(string) },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SORTD_OLLAMA_EMBED_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
	},
	{
		key: "index.host", typ: kString, env: "SORTD_INDEX_HOST",
		apply: func(cfg *Config, v any) { cfg.Index.Host = v.(string) },
	},
	{
		key: "index.port", typ: kInt, env: "SORTD_INDEX_PORT",
		apply: func(cfg *Config, v any) { cfg.Index.Port = v.(int) },
	},
	{
		key: "index.binary", typ: kString, env: "SORTD_INDEX_BINARY",
		apply: func(cfg *Config, v any) { cfg.Index.Binary = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SORTD_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "analyze.override_threshold", typ: kFloat, env: "SORTD_ANALYZE_OVERRIDE_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Analyze.OverrideThreshold = v.(float64) },
	},
	{
		key: "analyze.min_heuristic_score", typ: kInt, env: "SORTD_ANALYZE_MIN_HEURISTIC_SCORE",
		apply: func(cfg *Config, v any) { cfg.Analyze.MinHeuristicScore = v.(int) },
	},
	{
		key: "analyze.text_limit", typ: kInt, env: "SORTD_ANALYZE_TEXT_LIMIT",
		apply: func(cfg *Config, v any) { cfg.Analyze.TextLimit = v.(int) },
	},
	{
		key: "extract.max_file_size", typ: kInt64, env: "SORTD_EXTRACT_MAX_FILE_SIZE",
		apply: func(cfg *Config, v any) { cfg.Extract.MaxFileSize = v.(int64) },
	},
	{
		key: "extract.max_pdf_size", typ: kInt64, env: "SORTD_EXTRACT_MAX_PDF_SIZE",
		apply: func(cfg *Config, v any) { cfg.Extract.MaxPDFSize = v.(int64) },
	},
	{
		key: "extract.max_ocr_size", typ: kInt64, env: "SORTD_EXTRACT_MAX_OCR_SIZE",
		apply: func(cfg *Config, v any) { cfg.Extract.MaxOCRSize = v.(int64) },
	},
	{
		key: "extract.ocr_binary", typ: kString, env: "SORTD_EXTRACT_OCR_BINARY",
		apply: func(cfg *Config, v any) { cfg.Extract.OCRBinary = v.(string) },
	},
	{
		key: "log.level", typ: kString, env: "SORTD_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt64:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if i, err := strconv.ParseInt(v, 10, 64); err == nil {
					s.apply(cfg, i)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// KeyValue is one settable configuration key with its effective value.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll returns every settable key with its effective value, in the
// declaration order of the key table.
func ShowAll(cfg Config) []KeyValue {
	return []KeyValue{
		{"server.port", strconv.Itoa(cfg.Server.Port)},
		{"server.mcp_port", strconv.Itoa(cfg.Server.MCPPort)},
		{"ollama.base_url", cfg.Ollama.BaseURL},
		{"ollama.text_model", cfg.Ollama.TextModel},
		{"ollama.embed_model", cfg.Ollama.EmbedModel},
		{"index.host", cfg.Index.Host},
		{"index.port", strconv.Itoa(cfg.Index.Port)},
		{"index.binary", cfg.Index.Binary},
		{"storage.data_dir", cfg.Storage.DataDir},
		{"analyze.override_threshold", strconv.FormatFloat(cfg.Analyze.OverrideThreshold, 'g', -1, 64)},
		{"analyze.min_heuristic_score", strconv.Itoa(cfg.Analyze.MinHeuristicScore)},
		{"analyze.text_limit", strconv.Itoa(cfg.Analyze.TextLimit)},
		{"extract.max_file_size", strconv.FormatInt(cfg.Extract.MaxFileSize, 10)},
		{"extract.max_pdf_size", strconv.FormatInt(cfg.Extract.MaxPDFSize, 10)},
		{"extract.max_ocr_size", strconv.FormatInt(cfg.Extract.MaxOCRSize, 10)},
		{"extract.ocr_binary", cfg.Extract.OCRBinary},
		{"log.level", cfg.Log.Level},
	}
}

// SetKey validates value against the key's type and persists it to the
// file backend. Unknown keys are rejected.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b Backend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("key %s expects an integer: %w", key, err)
			}
			return b.SetInt(key, i)
		case kInt64:
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				return fmt.Errorf("key %s expects an integer: %w", key, err)
			}
			return b.SetString(key, value)
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("key %s expects a number: %w", key, err)
			}
			return b.SetString(key, value)
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}

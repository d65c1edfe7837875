package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/sortd/internal/analyze"
	"github.com/kalambet/sortd/internal/config"
	"github.com/kalambet/sortd/internal/extract"
	"github.com/kalambet/sortd/internal/heuristics"
	"github.com/kalambet/sortd/internal/ollama"
	"github.com/kalambet/sortd/internal/pipeline"
	"github.com/kalambet/sortd/internal/storage"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>...",
	Short: "Classify files without starting the server",
	Long: `Classify one or more files in-process and print the results as JSON.

Examples:
  sortd analyze ~/Downloads/invoice_2024.pdf
  sortd analyze --folders folders.json ~/Downloads/*.pdf
  sortd analyze --folder Finance --folder Legal contract.docx`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		foldersFile, _ := cmd.Flags().GetString("folders")
		folderNames, _ := cmd.Flags().GetStringSlice("folder")
		folders, err := resolveFolders(foldersFile, folderNames)
		if err != nil {
			return err
		}

		noHistory, _ := cmd.Flags().GetBool("no-history")
		pipe, cleanup, err := buildLocalPipeline(cfg, !noHistory)
		if err != nil {
			return err
		}
		defer cleanup()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, path := range args {
			res := pipe.AnalyzeFile(cmd.Context(), path, folders)
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("folders", "", "path to a JSON file with the smart folder set")
	analyzeCmd.Flags().StringSlice("folder", nil, "folder name to classify into (repeatable)")
	analyzeCmd.Flags().Bool("no-history", false, "skip recording results to the history store")
}

func resolveFolders(file string, names []string) ([]analyze.SmartFolder, error) {
	if file != "" && len(names) > 0 {
		return nil, fmt.Errorf("--folders and --folder are mutually exclusive")
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading folders file: %w", err)
		}
		var folders []analyze.SmartFolder
		if err := json.Unmarshal(data, &folders); err != nil {
			return nil, fmt.Errorf("parsing folders file: %w", err)
		}
		return folders, nil
	}
	folders := make([]analyze.SmartFolder, 0, len(names))
	for _, n := range names {
		folders = append(folders, analyze.SmartFolder{Name: n})
	}
	return folders, nil
}

// buildLocalPipeline composes the one-shot pipeline: extraction, backend
// analysis, and heuristics, but no vector index and no write-back. Folder
// refinement needs the running server.
func buildLocalPipeline(cfg config.Config, withHistory bool) (*pipeline.Pipeline, func(), error) {
	backend := ollama.New(cfg.Ollama.BaseURL)

	extractor := extract.New(extract.Config{
		MaxFileSize: cfg.Extract.MaxFileSize,
		MaxPDFSize:  cfg.Extract.MaxPDFSize,
		MaxOCRSize:  cfg.Extract.MaxOCRSize,
		OCRBinary:   cfg.Extract.OCRBinary,
	})

	analyzer := analyze.New(analyze.Config{
		Model:     cfg.Ollama.TextModel,
		TextLimit: cfg.Analyze.TextLimit,
	}, backend)

	deps := pipeline.Deps{
		Extractor:  extractor,
		Analyzer:   analyzer,
		Backend:    backend,
		Heuristics: heuristics.New(heuristics.Config{MinScore: cfg.Analyze.MinHeuristicScore}),
	}

	cleanup := func() {}
	if withHistory {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening storage: %w", err)
		}
		deps.History = store
		cleanup = func() { store.Close() }
	}

	pipe := pipeline.New(pipeline.Config{
		Model:             cfg.Ollama.TextModel,
		OverrideThreshold: cfg.Analyze.OverrideThreshold,
	}, deps)
	return pipe, cleanup, nil
}

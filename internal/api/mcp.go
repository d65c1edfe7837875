package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sortd/internal/analyze"
)

// MCPDeps holds dependencies for the MCP server. Matcher and Folders are
// optional; their tools report an error when unset.
type MCPDeps struct {
	Pipeline Analyzer
	Matcher  Suggester
	Folders  FolderSource
}

// NewMCPServer creates an MCP server exposing file classification as tools
// for agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sortd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("sortd classifies local files into smart folders using on-device models."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_file",
			mcp.WithDescription("Classify a file on disk into a category with keywords and confidence. Uses local models only."),
			mcp.WithString("path", mcp.Description("Absolute path of the file to classify"), mcp.Required()),
			mcp.WithString("folders", mcp.Description("Optional JSON array of {name, description, keywords, tags} target folders")),
		),
		mcpAnalyzeFile(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_folders",
			mcp.WithDescription("Rank configured smart folders by semantic similarity to a text snippet."),
			mcp.WithString("text", mcp.Description("Text to match against the folder set"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of candidates (default 5)")),
		),
		mcpSuggestFolders(deps),
	)

	return s
}

func mcpAnalyzeFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		var folders []analyze.SmartFolder
		if raw := req.GetString("folders", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &folders); err != nil {
				return mcpError(fmt.Sprintf("invalid folders: %v", err)), nil
			}
		} else if deps.Folders != nil {
			folders = deps.Folders(ctx)
		}

		res := deps.Pipeline.AnalyzeFile(ctx, path, folders)
		out, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpSuggestFolders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Matcher == nil {
			return mcpError("folder matching is not configured"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", 5), 5, 50)

		matches, err := deps.Matcher.Match(ctx, text, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("matching failed: %v", err)), nil
		}
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}
		out, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding matches: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

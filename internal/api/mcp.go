package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Validator *upload.Validator
	Scanner   Scanner
	History   *history.Store
}

// NewMCPServer creates an MCP server with the eclipse tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"eclipse",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("eclipse: mock skin-lesion scans of local images. Results are canned examples, not medical advice."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("scan_image",
			mcp.WithDescription("Run a mock skin-lesion scan on a local image file and save the result to history."),
			mcp.WithString("path", mcp.Description("Path to a JPG, PNG, GIF, WebP, BMP or TIFF image"), mcp.Required()),
		),
		mcpScanImage(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_history",
			mcp.WithDescription("List saved scan results, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpScanHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_report",
			mcp.WithDescription("Return the plain-text report for a saved scan."),
			mcp.WithString("scan_id", mcp.Description("Scan id, e.g. SCAN-1700000000000-abc123xyz"), mcp.Required()),
		),
		mcpScanReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"eclipse://history",
			"Scan History",
			mcp.WithResourceDescription("Saved scan results as JSON, without image previews"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpScanImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
		}
		var data []byte
		if info.Size() <= deps.Validator.MaxSize() {
			if data, err = os.ReadFile(path); err != nil {
				return mcpError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
			}
		}
		f := upload.NewFile(filepath.Base(path), "", data)
		f.Size = info.Size()

		if err := deps.Validator.Validate(f); err != nil {
			var ve *upload.ValidationError
			if errors.As(err, &ve) {
				metrics.ValidationFailuresTotal.WithLabelValues(ve.Rule).Inc()
			}
			return mcpError(err.Error()), nil
		}

		res, err := deps.Scanner.Analyze(ctx, f.Data)
		if err != nil {
			metrics.ScanFailuresTotal.Inc()
			return mcpError(fmt.Sprintf("scan failed: %v", err)), nil
		}
		metrics.ScansTotal.WithLabelValues(string(res.RiskLevel)).Inc()

		thumb, _ := upload.Thumbnail(f)
		deps.History.Record(ctx, res, thumb)

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// historyItem is a history entry without its image preview.
type historyItem struct {
	scan.Result
	Date  string `json:"date"`
	Saved bool   `json:"saved"`
}

func historyItems(entries []history.Entry) []historyItem {
	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{
			Result: e.Result,
			Date:   e.Date.Format(time.RFC3339),
			Saved:  e.Saved,
		}
	}
	return items
}

func mcpScanHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > deps.History.Limit() {
			limit = deps.History.Limit()
		}

		entries := deps.History.Load(ctx)
		if len(entries) > limit {
			entries = entries[:limit]
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(historyItems(entries))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpScanReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("scan_id")
		if err != nil {
			return mcpError("scan_id is required"), nil
		}
		e, ok := deps.History.Find(ctx, id)
		if !ok {
			return mcpError(fmt.Sprintf("scan %s not found", id)), nil
		}
		return mcpText(scan.Report(e.Result)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(historyItems(deps.History.Load(ctx)))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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

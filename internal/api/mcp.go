package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/crmai/internal/prediction"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat      Chatter
	Predictor Predictor
	Prober    Prober
	History   HistoryStore // optional; resources are not registered when nil
	Version   string
}

// NewMCPServer creates an MCP server exposing the CRM assistant as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"crmai",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("crmai answers questions about CRM data and predicts contract renewals."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_crm",
			mcp.WithDescription("Ask a free-form question about the CRM's clients, contracts and revenue."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskCRM(deps),
	)

	s.AddTool(
		mcp.NewTool("predict_renewal",
			mcp.WithDescription("Predict whether a contract will be renewed and suggest a follow-up action."),
			mcp.WithNumber("contract_id", mcp.Description("Upstream contract identifier"), mcp.Required()),
		),
		mcpPredictRenewal(deps),
	)

	s.AddTool(
		mcp.NewTool("train_model",
			mcp.WithDescription("Retrain the renewal model on the full upstream contract history."),
		),
		mcpTrainModel(deps),
	)

	s.AddTool(
		mcp.NewTool("check_backend",
			mcp.WithDescription("Check connectivity to the upstream CRM service."),
		),
		mcpCheckBackend(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"crm://model",
			"Renewal Model",
			mcp.WithResourceDescription("Status of the renewal model as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModel(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"crm://training-runs",
				"Training Runs",
				mcp.WithResourceDescription("Last 10 training runs"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceTrainingRuns(deps),
		)

		s.AddResource(
			mcp.NewResource(
				"crm://recent",
				"Recent Questions",
				mcp.WithResourceDescription("Last 10 answered questions (summaries only)"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAskCRM(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		reply := deps.Chat.Answer(ctx, question)
		if reply.Failed {
			return mcpError(reply.Text), nil
		}
		return mcpText(reply.Text), nil
	}
}

func mcpPredictRenewal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("contract_id")
		if err != nil {
			return mcpError("contract_id is required"), nil
		}

		res, err := deps.Predictor.Predict(ctx, int64(id))
		if err != nil {
			return mcpError(fmt.Sprintf("prediction failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpTrainModel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Predictor.Train(ctx, prediction.SourceMCP)
		if err != nil {
			return mcpError(fmt.Sprintf("training failed: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpCheckBackend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		check := CheckBackend(deps.Prober.FetchReport(ctx))
		if check.BackendStatus != BackendConnected {
			return mcpError(fmt.Sprintf("backend unreachable: %s", check.Error)), nil
		}
		return mcpJSON(check)
	}
}

func mcpResourceModel(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Predictor.Status())
	}
}

func mcpResourceTrainingRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.History.RecentTrainingRuns(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get training runs: %w", err)
		}
		out := make([]trainingRunView, len(runs))
		for i, r := range runs {
			out[i] = toTrainingRunView(r)
		}
		return jsonResource(req.Params.URI, out)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.History.RecentInteractions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
			Status    string `json:"status"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			question := ix.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Question:  question,
				Status:    ix.Status,
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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

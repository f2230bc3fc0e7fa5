package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/recall/internal/question"
)

// NewMCPServer creates an MCP server with the knowledge base tools and
// resources registered.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"recall",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("recall — question/answer knowledge base with semantic candidate search and fine-tuning queue."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("add_question",
			mcp.WithDescription("Store a question (optionally with its answer) in the knowledge base."),
			mcp.WithString("text", mcp.Description("The question text"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("Optional answer; answered questions become searchable")),
		),
		mcpAddQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("find_candidates",
			mcp.WithDescription("Semantically search stored answered questions and return answer candidates for a user message."),
			mcp.WithString("message", mcp.Description("The user message to resolve"), mcp.Required()),
		),
		mcpFindCandidates(deps),
	)

	s.AddTool(
		mcp.NewTool("draft_answer",
			mcp.WithDescription("Draft a reply to a user message using stored answer candidates as the only material."),
			mcp.WithString("message", mcp.Description("The user message to answer"), mcp.Required()),
		),
		mcpDraftAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_for_tuning",
			mcp.WithDescription("Run fine-tune linkage for an answered question: link it to close neighbors or queue it into the open tuning batch."),
			mcp.WithString("uuid", mcp.Description("The question uuid"), mcp.Required()),
		),
		mcpQueueForTuning(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"recall://questions",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 stored questions (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceQuestions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"recall://tuning",
			"Tuning Batches",
			mcp.WithResourceDescription("Fine-tuning batches and their statuses"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTuning(deps),
	)

	return s
}

func mcpAddQuestion(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		answer := req.GetString("answer", "")

		summary, err := deps.Questions.Create(ctx, question.Question{
			Text:   text,
			Answer: answer,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store question: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored question %s", summary.UUID)), nil
	}
}

func mcpFindCandidates(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		candidates, err := deps.Analyzer.CandidatesForMessage(ctx, message)
		if err != nil {
			return mcpError(fmt.Sprintf("candidate search failed: %v", err)), nil
		}

		if len(candidates) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(candidates)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal candidates: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpDraftAnswer(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		answer, candidates, err := deps.Analyzer.Answer(ctx, message)
		if err != nil {
			return mcpError(fmt.Sprintf("drafting failed: %v", err)), nil
		}
		if len(candidates) == 0 {
			return mcpText("No stored answers cover this message."), nil
		}

		return mcpText(answer), nil
	}
}

func mcpQueueForTuning(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("uuid")
		if err != nil {
			return mcpError("uuid is required"), nil
		}

		if err := deps.Analyzer.FineTuneQuestion(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("fine-tune linkage failed: %v", err)), nil
		}

		q, err := deps.Questions.Read(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read question: %v", err)), nil
		}

		if q.FTMethod == question.FTDeep {
			return mcpText(fmt.Sprintf("Question %s queued into batch %s", id, q.FTBatchUUID)), nil
		}
		return mcpText(fmt.Sprintf("Question %s linked to %d similar questions", id, len(q.SimilarQuestions))), nil
	}
}

func mcpResourceQuestions(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries := deps.Questions.List(0, 10)

		type questionSummary struct {
			UUID      string `json:"uuid"`
			CreatedAt string `json:"created_at"`
			Text      string `json:"text"`
		}

		out := make([]questionSummary, len(summaries))
		for i, s := range summaries {
			text := s.Text
			if utf8.RuneCountInString(text) > 200 {
				runes := []rune(text)
				text = string(runes[:200]) + "..."
			}
			out[i] = questionSummary{
				UUID:      s.UUID,
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
				Text:      text,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal questions: %w", err)
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

func mcpResourceTuning(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := deps.Queue.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal batches: %w", err)
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

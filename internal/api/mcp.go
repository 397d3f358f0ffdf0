package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/profile"
	"github.com/kalambet/mnemo/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Profiles     *profile.Manager
	Consolidator *memory.Consolidator
	Retriever    *memory.Retriever
	Forgetter    *memory.Forgetter
}

// NewMCPServer creates an MCP server with all memory tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mnemo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mnemo provides long-term memory for conversational agents: episodes, facts, user profiles, and a knowledge graph."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember_fact",
			mcp.WithDescription("Store a subject-predicate-object fact in semantic memory."),
			mcp.WithString("subject", mcp.Description("Who or what the fact is about"), mcp.Required()),
			mcp.WithString("predicate", mcp.Description("The relation, e.g. lives_in"), mcp.Required()),
			mcp.WithString("object", mcp.Description("The value of the relation"), mcp.Required()),
			mcp.WithNumber("confidence", mcp.Description("Confidence in [0,1], default 1.0")),
		),
		mcpRememberFact(deps),
	)

	s.AddTool(
		mcp.NewTool("record_episode",
			mcp.WithDescription("Store an event in episodic memory and queue fact extraction from it."),
			mcp.WithString("user_id", mcp.Description("User the episode belongs to"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What happened"), mcp.Required()),
			mcp.WithString("event_type", mcp.Description("Event category, e.g. conversation")),
			mcp.WithNumber("importance", mcp.Description("Importance in [0,1], default 0.5")),
		),
		mcpRecordEpisode(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search memory: facts by word overlap, or episodes by description similarity."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("kind", mcp.Description(`"facts" (default) or "episodes"`)),
			mcp.WithString("user_id", mcp.Description("Restrict episode recall to one user")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of fact results (default 10)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return a user's profile, or a compact text summary of it."),
			mcp.WithString("user_id", mcp.Description("User ID"), mcp.Required()),
			mcp.WithBoolean("summary", mcp.Description("Return a text summary instead of full JSON")),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Update fields of a user profile."),
			mcp.WithString("user_id", mcp.Description("User ID"), mcp.Required()),
			mcp.WithString("update", mcp.Description("JSON object of profile fields to change"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("record_turn",
			mcp.WithDescription("Record one conversational exchange against a user profile."),
			mcp.WithString("user_id", mcp.Description("User ID"), mcp.Required()),
			mcp.WithString("user_input", mcp.Description("What the user said")),
			mcp.WithString("response", mcp.Description("What the agent replied")),
			mcp.WithString("emotional_tone", mcp.Description("Detected tone of the exchange")),
		),
		mcpRecordTurn(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://stats",
			"Memory Statistics",
			mcp.WithResourceDescription("Counts and averages across episodic, semantic, and graph memory"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpRememberFact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}
		predicate, err := req.RequireString("predicate")
		if err != nil {
			return mcpError("predicate is required"), nil
		}
		object, err := req.RequireString("object")
		if err != nil {
			return mcpError("object is required"), nil
		}
		confidence := req.GetFloat("confidence", 1.0)

		id, err := deps.Consolidator.StoreFact(subject, predicate, object, confidence, "mcp")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store fact: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored fact %d: %s %s %s", id, subject, predicate, object)), nil
	}
}

func mcpRecordEpisode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}
		eventType := req.GetString("event_type", "conversation")
		importance := req.GetFloat("importance", 0.5)

		id, err := deps.Consolidator.StoreEpisode(userID, eventType, description, nil, importance)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store episode: %v", err)), nil
		}

		if err := enqueueConsolidation(deps.Store, id); err != nil {
			return mcpError(fmt.Sprintf("stored episode but failed to queue consolidation: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored episode %s", id)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		kind := req.GetString("kind", "facts")

		switch kind {
		case "facts":
			limit := req.GetInt("limit", 10)
			if limit <= 0 {
				limit = 10
			}
			if limit > 50 {
				limit = 50
			}
			facts, err := deps.Retriever.RelatedFacts(query, limit)
			if err != nil {
				return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
			}
			return mcpJSON(facts)

		case "episodes":
			userID := req.GetString("user_id", "")
			episodes, err := deps.Retriever.SimilarEpisodes(ctx, query, userID)
			if err != nil {
				return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
			}
			return mcpJSON(episodes)

		default:
			return mcpError(fmt.Sprintf("unknown kind %q", kind)), nil
		}
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		if req.GetBool("summary", false) {
			summary, err := deps.Profiles.Summary(userID)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to build summary: %v", err)), nil
			}
			return mcpText(summary), nil
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		updateJSON, err := req.RequireString("update")
		if err != nil {
			return mcpError("update is required"), nil
		}

		var upd profile.Update
		if err := json.Unmarshal([]byte(updateJSON), &upd); err != nil {
			return mcpError(fmt.Sprintf("invalid update JSON: %v", err)), nil
		}

		if _, err := deps.Profiles.Apply(userID, upd); err != nil {
			return mcpError(fmt.Sprintf("failed to update profile: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated profile for %s", userID)), nil
	}
}

func mcpRecordTurn(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		userInput := req.GetString("user_input", "")
		response := req.GetString("response", "")
		if userInput == "" && response == "" {
			return mcpError("at least one of user_input or response is required"), nil
		}

		p, err := deps.Profiles.RecordTurn(userID, profile.Turn{
			Timestamp:     time.Now().UTC(),
			UserInput:     userInput,
			Response:      response,
			EmotionalTone: req.GetString("emotional_tone", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record turn: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded turn %d for %s", p.InteractionCount, userID)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Forgetter.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
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

// mcpJSON renders any value as a JSON text result, "[]" for empty slices.
func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	text := string(b)
	if text == "null" {
		text = "[]"
	}
	return mcpText(text), nil
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

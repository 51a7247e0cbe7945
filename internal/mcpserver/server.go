// Package mcpserver exposes bucket chat and ingestion status as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bucketchat/internal/chat"
	"github.com/kalambet/bucketchat/internal/client"
	"github.com/kalambet/bucketchat/internal/sources"
)

const maxStatusBuckets = 20

// Turner runs one chat turn.
type Turner interface {
	Turn(ctx context.Context, conv *chat.Conversation, question string) (chat.Reply, error)
}

// Conversations opens and records conversations per bucket.
type Conversations interface {
	Open(bucketID string, fresh bool) (*chat.Conversation, error)
	Record(conv *chat.Conversation, reply chat.Reply) error
}

// Sources is the ingestion API the tools use.
type Sources interface {
	Status(ctx context.Context, bucketID string) (sources.Snapshot, error)
	Submit(ctx context.Context, bucketID, rawURL string) (sources.Kind, sources.SubmitResult, error)
	SubmitText(ctx context.Context, bucketID, content string) (sources.SubmitResult, error)
}

// Sessions lists remote chat sessions.
type Sessions interface {
	ListSessions(ctx context.Context, bucketID string) ([]chat.Session, error)
}

type Deps struct {
	Chat          Turner
	Conversations Conversations
	Sources       Sources
	Sessions      Sessions
	Version       string
	Logger        *slog.Logger
}

// New creates an MCP server with the bucketchat tools registered.
func New(deps Deps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"bucketchat",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("bucketchat answers questions from the sources ingested into a bucket."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_bucket",
			mcp.WithDescription("Ask a question answered from the sources in a bucket. Follow-up questions continue the bucket's conversation."),
			mcp.WithString("bucket_id", mcp.Description("Bucket to ask"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithBoolean("new_conversation", mcp.Description("Start a new conversation instead of continuing the last one")),
		),
		askBucket(deps, &keyedMutex{}),
	)

	s.AddTool(
		mcp.NewTool("source_status",
			mcp.WithDescription("Report ingestion progress for one or more buckets."),
			mcp.WithArray("bucket_ids", mcp.Description("Buckets to inspect"), mcp.Required(), mcp.WithStringItems()),
		),
		sourceStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_source",
			mcp.WithDescription("Add a web page, video, social post or plain text to a bucket."),
			mcp.WithString("bucket_id", mcp.Description("Target bucket"), mcp.Required()),
			mcp.WithString("url", mcp.Description("URL to ingest")),
			mcp.WithString("text", mcp.Description("Text to ingest when no url is given")),
		),
		submitSource(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List saved chat sessions of a bucket, newest first."),
			mcp.WithString("bucket_id", mcp.Description("Bucket to list"), mcp.Required()),
		),
		listSessions(deps),
	)

	return s
}

// keyedMutex serializes turns per bucket so one conversation never runs two
// turns at once.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

type askResult struct {
	Answer    string   `json:"answer"`
	Outcome   string   `json:"outcome"`
	SessionID string   `json:"session_id,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

func askBucket(deps Deps, locks *keyedMutex) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bucketID, err := req.RequireString("bucket_id")
		if err != nil {
			return mcpError("bucket_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		unlock := locks.lock(bucketID)
		defer unlock()

		conv, err := deps.Conversations.Open(bucketID, req.GetBool("new_conversation", false))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open conversation: %v", err)), nil
		}

		reply, err := deps.Chat.Turn(ctx, conv, question)
		if reply.Question.Content != "" {
			if recErr := deps.Conversations.Record(conv, reply); recErr != nil {
				deps.Logger.Warn("recording conversation failed", "bucket_id", bucketID, "error", recErr)
			}
		}
		if client.IsSessionExpired(err) {
			return mcpError("session expired: run `bucketchat login` and try again"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		res := askResult{Answer: reply.Text, Outcome: string(reply.Outcome), SessionID: reply.SessionID}
		for _, c := range reply.Sources {
			res.Sources = append(res.Sources, c.String())
		}
		return mcpJSON(res)
	}
}

type bucketStatus struct {
	BucketID          string         `json:"bucket_id"`
	TotalSources      int            `json:"total_sources"`
	Counts            sources.Counts `json:"counts"`
	CompletionPercent int            `json:"completion_percent"`
	FullyProcessed    bool           `json:"fully_processed"`
	Error             string         `json:"error,omitempty"`
}

func sourceStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := req.GetStringSlice("bucket_ids", nil)
		if len(ids) == 0 {
			return mcpError("bucket_ids is required"), nil
		}
		if len(ids) > maxStatusBuckets {
			return mcpError(fmt.Sprintf("at most %d buckets per call", maxStatusBuckets)), nil
		}

		results := make([]bucketStatus, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range ids {
			g.Go(func() error {
				snap, err := deps.Sources.Status(gctx, id)
				if client.IsSessionExpired(err) {
					return err
				}
				results[i] = bucketStatus{
					BucketID:          id,
					TotalSources:      snap.TotalSources,
					Counts:            snap.Counts,
					CompletionPercent: snap.CompletionPercent,
					FullyProcessed:    snap.IsFullyProcessed,
				}
				if err != nil {
					results[i].Error = err.Error()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return mcpError("session expired: run `bucketchat login` and try again"), nil
		}
		return mcpJSON(results)
	}
}

func submitSource(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bucketID, err := req.RequireString("bucket_id")
		if err != nil {
			return mcpError("bucket_id is required"), nil
		}
		rawURL := req.GetString("url", "")
		text := req.GetString("text", "")

		var (
			kind = sources.KindText
			res  sources.SubmitResult
		)
		switch {
		case rawURL != "":
			kind, res, err = deps.Sources.Submit(ctx, bucketID, rawURL)
		case text != "":
			res, err = deps.Sources.SubmitText(ctx, bucketID, text)
		default:
			return mcpError("one of url or text is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Submitted %s source %s (%s)", kind, res.SourceID, res.Status)), nil
	}
}

func listSessions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bucketID, err := req.RequireString("bucket_id")
		if err != nil {
			return mcpError("bucket_id is required"), nil
		}
		sessions, err := deps.Sessions.ListSessions(ctx, bucketID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions failed: %v", err)), nil
		}
		if len(sessions) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(sessions)
	}
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

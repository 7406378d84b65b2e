package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/loom/pkg/history"
)

type listThreadsArgs struct{}

type listThreadsResult struct {
	Threads []*history.Thread `json:"threads"`
}

type getHistoryArgs struct {
	ThreadID string `json:"thread_id" jsonschema:"the thread whose messages to fetch"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type getHistoryResult struct {
	ThreadID string           `json:"thread_id"`
	Messages []historyMessage `json:"messages"`
}

// mcpServer builds the MCP server exposing thread inspection tools,
// so agents can browse conversations without the HTTP API.
func mcpServer(s *Server) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "loom",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_threads",
		Description: "List all conversation threads, most recently updated first",
	}, s.mcpListThreads)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_history",
		Description: "Get the full message history of a conversation thread",
	}, s.mcpGetHistory)

	return srv
}

func streamableHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)
}

func (s *Server) mcpListThreads(ctx context.Context, _ *mcp.CallToolRequest, _ listThreadsArgs) (*mcp.CallToolResult, listThreadsResult, error) {
	threads, err := s.mgr.Threads(ctx)
	if err != nil {
		return nil, listThreadsResult{}, fmt.Errorf("list threads: %w", err)
	}

	var sb strings.Builder
	for _, t := range threads {
		fmt.Fprintf(&sb, "%s\t%s\n", t.ID, t.Topic)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
	}, listThreadsResult{Threads: threads}, nil
}

func (s *Server) mcpGetHistory(ctx context.Context, _ *mcp.CallToolRequest, args getHistoryArgs) (*mcp.CallToolResult, getHistoryResult, error) {
	msgs, err := s.mgr.History(ctx, args.ThreadID)
	if err != nil {
		return nil, getHistoryResult{}, fmt.Errorf("history for %s: %w", args.ThreadID, err)
	}

	out := getHistoryResult{ThreadID: args.ThreadID}
	var sb strings.Builder
	for _, m := range msgs {
		out.Messages = append(out.Messages, historyMessage{Role: m.Role, Content: m.Text()})
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Text())
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
	}, out, nil
}

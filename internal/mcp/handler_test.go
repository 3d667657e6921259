package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/resolve"
)

func newTestMCP(t *testing.T) (*MCPServer, *config.Store) {
	t.Helper()
	store, err := config.NewStore("") // in-memory
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewMCPServer(store, resolve.New(store), logger)
	return s, store
}

func callReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestCheckAccessTool(t *testing.T) {
	s, store := newTestMCP(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "one-host", Type: model.RuleTypeIP, Value: "10.0.0.5", IsActive: true}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := store.CreateAssignment(ctx, &model.RuleAssignment{
		RuleID: rule.ID, SubjectType: model.SubjectGroup, Subject: "ops",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{
			name: "allowed via group",
			args: map[string]interface{}{
				"user": "alice", "groups": []interface{}{"ops"}, "host": "10.0.0.5",
			},
			want: `"allowed": true`,
		},
		{
			name: "denied without group",
			args: map[string]interface{}{"user": "alice", "host": "10.0.0.5"},
			want: `"allowed": false`,
		},
		{
			name: "denied for other host",
			args: map[string]interface{}{
				"user": "alice", "groups": []interface{}{"ops"}, "host": "10.0.0.6",
			},
			want: `"allowed": false`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleCheckAccess(ctx, callReq(tt.args))
			if err != nil {
				t.Fatalf("handleCheckAccess: %v", err)
			}
			if got := resultText(t, result); !strings.Contains(got, tt.want) {
				t.Errorf("result = %s, want substring %q", got, tt.want)
			}
		})
	}
}

func TestCheckAccessToolMissingUser(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleCheckAccess(context.Background(), callReq(map[string]interface{}{
		"host": "10.0.0.5",
	}))
	if err != nil {
		t.Fatalf("handleCheckAccess: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool-level error for missing user")
	}
}

func TestResolveRoutesToolUnknownHub(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleResolveRoutes(context.Background(), callReq(map[string]interface{}{
		"user": "alice", "hub": "nope",
	}))
	if err != nil {
		t.Fatalf("handleResolveRoutes: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool-level error for unknown hub")
	}
	if got := resultText(t, result); !strings.Contains(got, "not found") {
		t.Errorf("result = %s, want a not-found message", got)
	}
}

func TestListRulesTool(t *testing.T) {
	s, store := newTestMCP(t)
	ctx := context.Background()

	if err := store.CreateRule(ctx, &model.AccessRule{
		Name: "intranet", Type: model.RuleTypeHostnameWildcard, Value: "*.corp.example.com", IsActive: true,
	}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	result, err := s.handleListRules(ctx, callReq(nil))
	if err != nil {
		t.Fatalf("handleListRules: %v", err)
	}
	got := resultText(t, result)
	if !strings.Contains(got, "intranet") || !strings.Contains(got, `"count": 1`) {
		t.Errorf("result = %s", got)
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
	"github.com/hitsz-openauto/hoa-pr/internal/session"
	"github.com/hitsz-openauto/hoa-pr/internal/submit"
)

const readme = `course_code = "AUTO2001"
course_name = "自动化专业导论"
description = "导论课，主要介绍专业方向。"

[[lecturers]]
name = "张老师"

[[lecturers.reviews]]
content = "老师讲得很好，推荐选修。"

[[lecturers.reviews]]
content = "老师讲得很好，但是作业偏多。"
`

var autoID = models.RepoIdentity{RepoName: "AUTO2001", CourseCode: "AUTO2001", CourseName: "自动化专业导论", RepoType: "normal"}

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockCatalog struct {
	courses []*models.Course
	listErr error
}

func (m *mockCatalog) Resolve(_ context.Context, ref string) (models.RepoIdentity, error) {
	for _, c := range m.courses {
		if strings.EqualFold(c.CourseCode, strings.TrimSpace(ref)) {
			return c.Identity(), nil
		}
	}
	return models.RepoIdentity{}, models.ErrNotFound
}

func (m *mockCatalog) ListCourses(context.Context) ([]*models.Course, error) {
	return m.courses, m.listErr
}

func (m *mockCatalog) Fetch(_ context.Context, id models.RepoIdentity) (string, error) {
	if id.Key() == "AUTO2001" {
		return readme, nil
	}
	return "", models.ErrNotFound
}

type nopPR struct{}

func (nopPR) Ensure(context.Context, models.RepoIdentity, string) (models.EnsureResult, error) {
	return models.EnsureResult{PRRef: "https://example.test/pull/1", Created: true}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockCatalog) {
	t.Helper()
	mc := &mockCatalog{courses: []*models.Course{{
		CourseCode: "AUTO2001", CourseName: "自动化专业导论", RepoName: "AUTO2001", RepoType: "normal",
	}}}
	engine := session.NewEngine(mc, mc, &submit.Pipeline{PR: nopPR{}}, session.Config{})
	srv := NewServer(engine, mc, locator.New(), 0, "test")
	require.NotNil(t, srv)
	return srv, mc
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

type messageOut struct {
	SessionID string           `json:"session_id"`
	State     string           `json:"state"`
	Segments  []render.Segment `json:"segments"`
	Error     string           `json:"error"`
}

func sendMessage(t *testing.T, srv *Server, text string) messageOut {
	t.Helper()
	result, err := srv.handleMessage(context.Background(), callToolReq("hoa_pr_message", map[string]any{
		"user": "u1", "scope": "g1", "text": text,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out messageOut
	resultJSON(t, result, &out)
	return out
}

// ---------------------------------------------------------------------------
// Tests: hoa_pr_message
// ---------------------------------------------------------------------------

func TestHandleMessage_Conversation(t *testing.T) {
	srv, _ := newTestServer(t)

	out := sendMessage(t, srv, "/pr start AUTO2001")
	assert.Equal(t, "started", out.State)
	assert.NotEmpty(t, out.SessionID)
	assert.Empty(t, out.Error)

	out = sendMessage(t, srv, "/pr modify")
	assert.Equal(t, "awaiting_locate_text", out.State)

	out = sendMessage(t, srv, "老师讲得很好")
	assert.Equal(t, "awaiting_disambiguation", out.State)
	assert.NotEmpty(t, out.Error)

	result, err := srv.handleSessions(context.Background(), callToolReq("hoa_pr_sessions", nil))
	require.NoError(t, err)
	var sessions []session.Summary
	resultJSON(t, result, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.AwaitingDisambiguation, sessions[0].State)
}

func TestHandleMessage_MissingArgs(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no user", map[string]any{"text": "/pr"}, "user"},
		{"no text", map[string]any{"user": "u1"}, "text"},
		{"empty user", map[string]any{"user": "", "text": "/pr"}, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleMessage(ctx, callToolReq("hoa_pr_message", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Tests: hoa_pr_render / hoa_pr_locate
// ---------------------------------------------------------------------------

func TestHandleRender(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleRender(ctx, callToolReq("hoa_pr_render", map[string]any{"toml": readme, "budget": 30}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var segments []render.Segment
	resultJSON(t, result, &segments)
	require.NotEmpty(t, segments)
	for _, s := range segments {
		assert.LessOrEqual(t, len([]rune(s.Text)), 30)
	}

	result, err = srv.handleRender(ctx, callToolReq("hoa_pr_render", map[string]any{"toml": "course_code = ["}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleLocate(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleLocate(ctx, callToolReq("hoa_pr_locate", map[string]any{"toml": readme, "query": "但是作业偏多"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var res locator.Result
	resultJSON(t, result, &res)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 1, res.Candidates[0].Location.Path.Review)

	result, err = srv.handleLocate(ctx, callToolReq("hoa_pr_locate", map[string]any{"toml": readme, "query": "毫不相干的内容片段，完全不会匹配"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no matching")

	result, err = srv.handleLocate(ctx, callToolReq("hoa_pr_locate", map[string]any{"toml": readme}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// Tests: catalog tools
// ---------------------------------------------------------------------------

func TestHandleListCourses(t *testing.T) {
	srv, mc := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleListCourses(ctx, callToolReq("hoa_pr_list_courses", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "AUTO2001")

	mc.listErr = errors.New("db closed")
	result, err = srv.handleListCourses(ctx, callToolReq("hoa_pr_list_courses", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleResolveCourse(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleResolveCourse(ctx, callToolReq("hoa_pr_resolve_course", map[string]any{"ref": "auto2001"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var id models.RepoIdentity
	resultJSON(t, result, &id)
	assert.Equal(t, autoID, id)

	result, err = srv.handleResolveCourse(ctx, callToolReq("hoa_pr_resolve_course", map[string]any{"ref": "NOPE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// Tests: Integration -- verify all tools are registered via HandleMessage
// ---------------------------------------------------------------------------

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	expectedTools := []string{
		"hoa_pr_message",
		"hoa_pr_sessions",
		"hoa_pr_render",
		"hoa_pr_locate",
		"hoa_pr_list_courses",
		"hoa_pr_resolve_course",
	}
	for _, name := range expectedTools {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

var _ Catalog = (*mockCatalog)(nil)

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
	"github.com/hitsz-openauto/hoa-pr/internal/session"
)

// Catalog is the part of the course catalog the tools read.
type Catalog interface {
	Resolve(ctx context.Context, ref string) (models.RepoIdentity, error)
	ListCourses(ctx context.Context) ([]*models.Course, error)
}

// Server exposes the conversation engine and the document helpers as MCP
// tools.
type Server struct {
	engine  *session.Engine
	catalog Catalog
	locator *locator.Locator
	budget  int
	version string
}

// NewServer creates the MCP server wrapper. A nil locator selects the
// default one.
func NewServer(e *session.Engine, c Catalog, l *locator.Locator, budget int, version string) *Server {
	if l == nil {
		l = locator.New()
	}
	if budget <= 0 {
		budget = session.DefaultBudget
	}
	return &Server{engine: e, catalog: c, locator: l, budget: budget, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("hoa-pr", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.messageTool())
	srv.AddTool(s.sessionsTool())
	srv.AddTool(s.renderTool())
	srv.AddTool(s.locateTool())
	srv.AddTool(s.listCoursesTool())
	srv.AddTool(s.resolveCourseTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// hoa_pr_message
func (s *Server) messageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_message",
		mcp.WithDescription("Send one chat turn to the readme.toml PR assistant, e.g. \"/pr start AUTO2001\", \"/pr add 学习建议\" or free text answering the last prompt. Returns the session state and the reply segments."),
		mcp.WithString("user", mcp.Required(), mcp.Description("Stable user identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("scope", mcp.Description("Conversation scope, e.g. a group chat id")),
		mcp.WithString("sender_name", mcp.Description("Display name used as the default signature")),
		mcp.WithNumber("budget", mcp.Description("Maximum runes per reply segment")),
	)
	return tool, s.handleMessage
}

func (s *Server) handleMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := request.RequireString("user")
	if err != nil || user == "" {
		return mcp.NewToolResultError("missing required parameter: user"), nil
	}
	text, err := request.RequireString("text")
	if err != nil || text == "" {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}

	reply := s.engine.Handle(ctx, session.Message{
		User:       user,
		Scope:      request.GetString("scope", ""),
		SenderName: request.GetString("sender_name", ""),
		Text:       text,
		Budget:     request.GetInt("budget", 0),
	})

	out := struct {
		SessionID string           `json:"session_id,omitempty"`
		State     session.State    `json:"state"`
		Segments  []render.Segment `json:"segments"`
		Error     string           `json:"error,omitempty"`
	}{SessionID: reply.SessionID, State: reply.State, Segments: reply.Segments}
	if reply.Err != nil {
		out.Error = reply.Err.Error()
	}
	return jsonResult(out)
}

// hoa_pr_sessions
func (s *Server) sessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_sessions",
		mcp.WithDescription("List live PR sessions with their state and edit count."),
	)
	return tool, s.handleSessions
}

func (s *Server) handleSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Sessions())
}

// hoa_pr_render
func (s *Server) renderTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_render",
		mcp.WithDescription("Render a readme.toml document into budget-bounded text segments."),
		mcp.WithString("toml", mcp.Required(), mcp.Description("readme.toml content")),
		mcp.WithNumber("budget", mcp.Description("Maximum runes per segment")),
	)
	return tool, s.handleRender
}

func (s *Server) handleRender(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("toml")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: toml"), nil
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	budget := request.GetInt("budget", s.budget)
	if budget <= 0 {
		budget = s.budget
	}
	return jsonResult(slices.Collect(render.Render(doc, budget)))
}

// hoa_pr_locate
func (s *Server) locateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_locate",
		mcp.WithDescription("Find the paragraphs of a readme.toml document that best match a pasted excerpt. Returns ranked candidates with their location."),
		mcp.WithString("toml", mcp.Required(), mcp.Description("readme.toml content")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Pasted paragraph text")),
	)
	return tool, s.handleLocate
}

func (s *Server) handleLocate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("toml")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: toml"), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.locator.Locate(doc, query)
	if errors.Is(err, models.ErrNotFound) {
		return mcp.NewToolResultError("no matching paragraph"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// hoa_pr_list_courses
func (s *Server) listCoursesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_list_courses",
		mcp.WithDescription("List the courses in the local catalog with code, name, repository and parent code."),
	)
	return tool, s.handleListCourses
}

func (s *Server) handleListCourses(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	courses, err := s.catalog.ListCourses(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list courses: %v", err)), nil
	}

	type courseOut struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Repo     string `json:"repo"`
		RepoType string `json:"repo_type"`
		Parent   string `json:"parent,omitempty"`
	}
	out := make([]courseOut, len(courses))
	for i, c := range courses {
		out[i] = courseOut{
			Code:     c.CourseCode,
			Name:     c.CourseName,
			Repo:     c.RepoName,
			RepoType: c.RepoType,
			Parent:   c.ParentCode,
		}
	}
	return jsonResult(out)
}

// hoa_pr_resolve_course
func (s *Server) resolveCourseTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoa_pr_resolve_course",
		mcp.WithDescription("Resolve a course code, name, nickname or \"CODE name\" paste to the repository it lives in."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Course reference")),
	)
	return tool, s.handleResolveCourse
}

func (s *Server) handleResolveCourse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ref"), nil
	}
	id, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("course not found: %s", ref)), nil
	}
	return jsonResult(id)
}

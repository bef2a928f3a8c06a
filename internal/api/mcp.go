package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/session"
)

// MCPDeps holds dependencies for the MCP server. The MCP transport has no
// caller identity, so every call acts as UserID.
type MCPDeps struct {
	Sessions *session.Service
	UserID   string
}

// NewMCPServer creates an MCP server with the vitals tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vitals",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vitals builds a personal health profile through a guided interview. Start a session, relay the user's answers with send_message, and show the replies verbatim."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start or resume the health profile interview. Returns the opening message to show the user."),
		),
		mcpStartSession(deps),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send the user's reply to the interview and get the assistant's response."),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session id (default: the current session)")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("pause_session",
			mcp.WithDescription("Pause the interview. Answers so far are kept."),
			mcp.WithString("session_id", mcp.Description("Session id (default: the current session)")),
		),
		mcpPauseSession(deps),
	)

	s.AddTool(
		mcp.NewTool("get_progress",
			mcp.WithDescription("Report how much of the health profile questionnaire is answered."),
		),
		mcpGetProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("confirm_action",
			mcp.WithDescription("Apply a profile change that was waiting for the user's confirmation."),
			mcp.WithString("action_id", mcp.Description("Pending action id"), mcp.Required()),
		),
		mcpDecideAction(deps, true),
	)

	s.AddTool(
		mcp.NewTool("reject_action",
			mcp.WithDescription("Discard a profile change that was waiting for the user's confirmation."),
			mcp.WithString("action_id", mcp.Description("Pending action id"), mcp.Required()),
		),
		mcpDecideAction(deps, false),
	)

	s.AddResource(
		mcp.NewResource(
			"profile://sections",
			"Health Profile",
			mcp.WithResourceDescription("The user's health profile sections as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSections(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"profile://document",
			"Health Profile Document",
			mcp.WithResourceDescription("The user's health profile as one text document"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceDocument(deps),
	)

	return s
}

// currentSessionID returns the explicit id or the user's latest session.
func currentSessionID(deps MCPDeps, req mcp.CallToolRequest) (string, error) {
	if id := req.GetString("session_id", ""); id != "" {
		return id, nil
	}
	sum, err := deps.Sessions.Get(deps.UserID)
	if err != nil {
		return "", err
	}
	return sum.Session.ID, nil
}

func mcpStartSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Sessions.Start(ctx, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start session: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"sessionId":    res.Session.ID,
			"resumed":      res.Resumed,
			"message":      res.Message,
			"progress":     res.Progress,
			"nextQuestion": res.NextQuestion,
		})
	}
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		id, err := currentSessionID(deps, req)
		if err != nil {
			return mcpSessionError(err), nil
		}

		res, err := deps.Sessions.Turn(ctx, deps.UserID, id, message)
		if err != nil {
			return mcpSessionError(err), nil
		}
		return mcpJSON(res)
	}
}

func mcpPauseSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := currentSessionID(deps, req)
		if err != nil {
			return mcpSessionError(err), nil
		}
		if _, err := deps.Sessions.Pause(ctx, deps.UserID, id); err != nil {
			return mcpSessionError(err), nil
		}
		return mcpText("Session paused. Answers so far are saved."), nil
	}
}

func mcpGetProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, prog, err := deps.Sessions.Questions(deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get progress: %v", err)), nil
		}
		return mcpJSON(prog)
	}
}

func mcpDecideAction(deps MCPDeps, confirm bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actionID, err := req.RequireString("action_id")
		if err != nil {
			return mcpError("action_id is required"), nil
		}
		id, err := currentSessionID(deps, req)
		if err != nil {
			return mcpSessionError(err), nil
		}

		if !confirm {
			if err := deps.Sessions.RejectAction(ctx, deps.UserID, id, actionID); err != nil {
				return mcpSessionError(err), nil
			}
			return mcpText(fmt.Sprintf("Rejected action %s", actionID)), nil
		}
		out, err := deps.Sessions.ConfirmAction(ctx, deps.UserID, id, actionID)
		if err != nil {
			return mcpSessionError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpResourceSections(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sections, err := deps.Sessions.Sections(deps.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(sections)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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

func mcpResourceDocument(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sections, err := deps.Sessions.Sections(deps.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     profile.Compose(sections),
			},
		}, nil
	}
}

func mcpSessionError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return mcpError("no session: call start_session first")
	case errors.Is(err, session.ErrSessionPaused):
		return mcpError("session is paused: call start_session to resume")
	default:
		return mcpError(err.Error())
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

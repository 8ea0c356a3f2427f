package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
)

// Tool describes a tool in the tools/list result.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

const (
	actionInfo         = "info"
	actionAuthenticate = "authenticate"
	actionProbe        = "probe"
	actionLogout       = "logout"
	actionGetProtected = "get-protected"
)

var authTool = Tool{
	Name:        "iiif-auth",
	Description: "Authenticate with IIIF resources and access protected content",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{actionInfo, actionAuthenticate, actionProbe, actionLogout, actionGetProtected},
				"description": "The authentication action to perform",
			},
			"resourceUrl": map[string]any{
				"type":        "string",
				"description": "The URL of the IIIF resource",
			},
			"username": map[string]any{
				"type":        "string",
				"description": "Username for authentication (when action is authenticate)",
			},
			"password": map[string]any{
				"type":        "string",
				"description": "Password for authentication (when action is authenticate)",
			},
			"token": map[string]any{
				"type":        "string",
				"description": "Manually provide an access token (when action is authenticate)",
			},
			"sessionId": map[string]any{
				"type":        "string",
				"description": "Manually provide a session ID (when action is authenticate)",
			},
			"interactive": map[string]any{
				"type":        "boolean",
				"description": "Use interactive browser-based authentication (when action is authenticate)",
			},
			"structured": map[string]any{
				"type":        "boolean",
				"description": "Return structured JSON data instead of formatted text",
			},
		},
		"required": []string{"action", "resourceUrl"},
	},
}

// authArgs are the iiif-auth tool arguments.
type authArgs struct {
	Action      string `json:"action"`
	ResourceURL string `json:"resourceUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Token       string `json:"token"`
	SessionID   string `json:"sessionId"`
	Interactive bool   `json:"interactive"`
	Structured  bool   `json:"structured"`
}

// invalidParams marks argument errors reported as -32602.
type invalidParams struct{ msg string }

func (e *invalidParams) Error() string { return e.msg }

func (s *Server) callAuthTool(ctx context.Context, raw json.RawMessage) (string, error) {
	var args authArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", &invalidParams{msg: fmt.Sprintf("invalid arguments: %v", err)}
		}
	}
	args.ResourceURL = strings.TrimSpace(args.ResourceURL)
	if args.ResourceURL == "" {
		return "", &invalidParams{msg: "resourceUrl is required"}
	}
	if args.Action == "" {
		return "", &invalidParams{msg: "action is required"}
	}

	logger := s.logger.With("action", args.Action, "resource_url", args.ResourceURL)
	logger.DebugContext(ctx, "tool call")

	switch args.Action {
	case actionInfo:
		doc, err := s.auth.GetAuthInfo(ctx, args.ResourceURL)
		if err != nil {
			return "", err
		}
		return renderAuthInfo(doc, args.Structured)

	case actionAuthenticate:
		var creds *domainauth.Credentials
		if args.Username != "" && args.Password != "" {
			creds = &domainauth.Credentials{Username: args.Username, Password: args.Password}
		}
		sess, err := s.auth.Authenticate(ctx, args.ResourceURL, creds, domainauth.AuthenticateOptions{
			Token:       args.Token,
			SessionID:   args.SessionID,
			Interactive: args.Interactive,
		})
		if err != nil {
			return "", err
		}
		return renderSession(sess, args.Structured)

	case actionProbe:
		ok, err := s.auth.ProbeAccess(ctx, args.ResourceURL, nil)
		if err != nil {
			return "", err
		}
		return renderProbe(args.ResourceURL, ok, args.Structured)

	case actionLogout:
		if err := s.auth.Logout(ctx, args.ResourceURL); err != nil {
			return "", err
		}
		return renderLogout(args.ResourceURL, args.Structured)

	case actionGetProtected:
		doc, err := s.auth.GetProtectedResource(ctx, args.ResourceURL, nil)
		if err != nil {
			return "", err
		}
		return renderProtected(args.ResourceURL, doc, args.Structured)

	default:
		return "", &invalidParams{msg: fmt.Sprintf("Unknown action: %s", args.Action)}
	}
}

// toolError maps a tool failure onto a JSON-RPC error. Argument problems are
// -32602; everything else is -32000 with the error code and hint as data.
func toolError(id any, err error) *Response {
	var ip *invalidParams
	if errors.As(err, &ip) {
		return errorResponse(id, codeInvalidParams, ip.msg, nil)
	}
	code := apperrors.GetCode(err)
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	return errorResponse(id, codeToolFailed, "Authentication operation failed: "+err.Error(), ErrorData{
		Code: string(code),
		Hint: apperrors.GetHint(err),
	})
}

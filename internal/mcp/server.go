package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
)

const (
	serverName      = "iiif-mcp"
	serverVersion   = "1.1.0"
	protocolVersion = "2024-11-05"

	maxLineBytes = 4 << 20
)

// AuthOperations is the authentication surface the iiif-auth tool drives.
type AuthOperations interface {
	GetAuthInfo(ctx context.Context, resourceURL string) (map[string]any, error)
	Authenticate(
		ctx context.Context,
		resourceURL string,
		creds *domainauth.Credentials,
		opts domainauth.AuthenticateOptions,
	) (domainauth.Session, error)
	ProbeAccess(ctx context.Context, resourceURL string, sess *domainauth.Session) (bool, error)
	Logout(ctx context.Context, resourceURL string) error
	GetProtectedResource(ctx context.Context, resourceURL string, sess *domainauth.Session) (map[string]any, error)
}

// ServerOptions groups dependencies for Server.
type ServerOptions struct {
	Auth   AuthOperations // Required
	Logger *slog.Logger   // Optional
}

// Server handles MCP protocol communication.
type Server struct {
	auth   AuthOperations
	logger *slog.Logger
}

// NewServer creates a new MCP server.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Auth == nil {
		return nil, errors.New("AuthOperations is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{auth: opts.Auth, logger: logger.With("component", "mcp_server")}, nil
}

// Run reads requests from in until EOF or ctx is done and writes responses to
// out. It waits for in-flight tool calls before returning; their contexts are
// canceled when ctx is.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	w := &responseWriter{enc: json.NewEncoder(out)}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "stopping server", "reason", ctx.Err())
			return nil
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read requests: %w", err)
					}
				default:
				}
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.logger.WarnContext(ctx, "failed to parse request", "error", err)
				w.write(ctx, s.logger, errorResponse(nil, codeParseError, "Parse error", err.Error()))
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp := s.handleRequest(ctx, &req); resp != nil {
					w.write(ctx, s.logger, resp)
				}
			}()
		}
	}
}

// responseWriter serialises responses onto one encoder.
type responseWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *responseWriter) write(ctx context.Context, logger *slog.Logger, resp *Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// handleRequest routes a request. A nil response means nothing is written.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return result(req.ID, map[string]any{"tools": []Tool{authTool}})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return result(req.ID, map[string]any{})
	default:
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name != authTool.Name {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("Unknown tool: %s", params.Name), nil)
	}

	text, err := s.callAuthTool(ctx, params.Arguments)
	if err != nil {
		return toolError(req.ID, err)
	}
	return result(req.ID, textResult(text))
}

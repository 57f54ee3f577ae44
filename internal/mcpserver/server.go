package mcpserver

import (
	"context"
	"errors"
	"io"
	stdlog "log"
	"net/http"

	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/plannerbridge/internal/httpserve"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/tools"
)

// Name is announced to MCP hosts during initialize.
const Name = "plannerbridge"

// Path is where the streamable HTTP endpoint is mounted.
const Path = "/mcp"

const instructions = "Tools forwarding chat, file and project analysis, and task management " +
	"to the remote planning agent. Every call returns {success, data} or " +
	"{success: false, error: {code, message, details}}."

// New builds an MCP server exposing the dispatcher's tool catalogue.
func New(d *tools.Dispatcher, version string) (*sdkserver.MCPServer, error) {
	srv := sdkserver.NewMCPServer(
		Name,
		version,
		sdkserver.WithResourceCapabilities(false, false),
		sdkserver.WithToolCapabilities(false),
		sdkserver.WithPromptCapabilities(false),
		sdkserver.WithRecovery(),
		sdkserver.WithInstructions(instructions),
	)
	st, err := d.ServerTools()
	if err != nil {
		return nil, err
	}
	srv.AddTools(st...)
	return srv, nil
}

// NewHandler constructs a Streamable HTTP MCP handler for srv.
func NewHandler(srv *sdkserver.MCPServer) http.Handler {
	return sdkserver.NewStreamableHTTPServer(
		srv,
		sdkserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctx
		}),
	)
}

// ServeHTTP mounts the streamable handler at Path on addr until ctx ends and
// returns the bound address.
func ServeHTTP(ctx context.Context, srv *sdkserver.MCPServer, addr string) (string, error) {
	mux := http.NewServeMux()
	mux.Handle(Path, NewHandler(srv))
	return httpserve.ServeUntilContext(ctx, addr, mux)
}

// ServeStdio serves srv over in and out until ctx ends or in reaches EOF.
func ServeStdio(ctx context.Context, srv *sdkserver.MCPServer, in io.Reader, out io.Writer) error {
	s := sdkserver.NewStdioServer(srv)
	s.SetErrorLogger(stdlog.New(logx.Log, "mcp stdio: ", 0))
	err := s.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Package mcptools imports the tool catalogues of external MCP servers as
// [tools.Descriptor] values. Servers are reached over stdio (a spawned
// subprocess) or streamable HTTP using the official MCP Go SDK. Every server
// sits behind its own circuit breaker so a dead server fails fast instead of
// stalling a tool batch.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/rexlive/internal/resilience"
	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// Transport selects how an MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport

	// Command is split on whitespace into executable and arguments (stdio).
	Command string
	Env     map[string]string

	// URL is the endpoint (streamable-http).
	URL string

	// Shape applies to every tool the server exposes.
	Shape tools.Shape
}

// Host owns the client sessions to all configured MCP servers.
type Host struct {
	client  *mcpsdk.Client
	breaker resilience.CircuitBreakerConfig

	mu      sync.Mutex
	servers map[string]*mcpsdk.ClientSession
}

// New returns a host. breaker is the template for per-server breakers.
func New(version string, breaker resilience.CircuitBreakerConfig) *Host {
	return &Host{
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: "rexlive", Version: version}, nil),
		breaker: breaker,
		servers: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect opens a session to the server described by cfg and returns a
// descriptor per discovered tool.
func (h *Host) Connect(ctx context.Context, cfg ServerConfig) ([]tools.Descriptor, error) {
	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return h.ConnectTransport(ctx, cfg, transport)
}

// ConnectTransport is [Host.Connect] over a caller-supplied transport.
func (h *Host) ConnectTransport(ctx context.Context, cfg ServerConfig, transport mcpsdk.Transport) ([]tools.Descriptor, error) {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptools: connect %q: %w", cfg.Name, err)
	}

	var discovered []*mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcptools: list tools of %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, t)
	}

	h.mu.Lock()
	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.Close()
	}
	h.servers[cfg.Name] = session
	h.mu.Unlock()

	bcfg := h.breaker
	bcfg.Name = "mcp:" + cfg.Name
	breaker := resilience.NewCircuitBreaker(bcfg)

	ds := make([]tools.Descriptor, 0, len(discovered))
	for _, t := range discovered {
		ds = append(ds, tools.Descriptor{
			Definition: s2s.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			Shape:   cfg.Shape,
			Handler: callHandler(session, breaker, t.Name),
		})
	}
	slog.Info("mcp server connected", "server", cfg.Name, "tools", len(ds))
	return ds, nil
}

// Close ends every server session.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for name, s := range h.servers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptools: close %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	return firstErr
}

func newTransport(ctx context.Context, cfg ServerConfig) (mcpsdk.Transport, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcptools: server config needs a name")
	}
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("mcptools: stdio server %q needs a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptools: streamable-http server %q needs a url", cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("mcptools: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

func callHandler(session *mcpsdk.ClientSession, breaker *resilience.CircuitBreaker, name string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var argMap map[string]any
		if err := tools.DecodeArgs(args, &argMap); err != nil {
			return "", fmt.Errorf("mcptools: %s: invalid arguments: %w", name, err)
		}

		var out string
		err := breaker.Execute(func() error {
			res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argMap})
			if err != nil {
				return err
			}
			out = textContent(res)
			if res.IsError {
				// Tool-level errors are the server working as intended; they
				// do not count against the breaker.
				out = "Error: " + out
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("mcptools: %s: %w", name, err)
		}
		return out, nil
	}
}

func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func schemaToMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	fallback := map[string]any{"type": "object"}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

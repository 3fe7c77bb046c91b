package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claraverse/mcp-gateway/internal/models"
)

const (
	// how long the transport waits between closing stdin, SIGTERM and SIGKILL
	terminateGrace = 2 * time.Second
	closeTimeout   = 10 * time.Second
)

// ErrProcessExited is returned for requests to a server whose process has gone away
var ErrProcessExited = errors.New("server process exited")

// ServerClient is a live session with one spawned tool server
type ServerClient interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Close() error
}

// StdioClient is a protocol session with a tool server running as a child process
type StdioClient struct {
	serverID string
	cmd      *exec.Cmd
	session  *mcp.ClientSession
	verbose  bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// StartStdioClient spawns the server described by cfg and performs the initialize handshake.
// The process environment is exactly cfg.Env; nothing is inherited from the launcher.
func StartStdioClient(ctx context.Context, serverID string, cfg *models.LaunchConfig, verbose bool) (*StdioClient, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = envList(cfg.Env)
	cmd.Stderr = &stderrLogger{serverID: serverID}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "claraverse-launcher",
		Version: "1.0.0",
	}, nil)

	var transport mcp.Transport = &mcp.CommandTransport{
		Command:           cmd,
		TerminateDuration: terminateGrace,
	}
	if verbose {
		transport = &mcp.LoggingTransport{
			Transport: transport,
			Writer:    &stderrLogger{serverID: serverID, prefix: "[MCP wire]"},
		}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		// Connect leaves a started process behind when the handshake fails
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	c := &StdioClient{
		serverID: serverID,
		cmd:      cmd,
		session:  session,
		verbose:  verbose,
		done:     make(chan struct{}),
	}
	go func() {
		err := session.Wait()
		if verbose && err != nil {
			log.Printf("[MCP] %s session ended: %v", serverID, err)
		}
		close(c.done)
	}()

	return c, nil
}

// Call runs one routed protocol method. params is the method's JSON params
// object, either raw or as a value that marshals to it.
func (c *StdioClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", method, ErrProcessExited)
	default:
	}

	var (
		result interface{}
		err    error
	)

	switch method {
	case models.MethodToolsList:
		var p mcp.ListToolsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = c.session.ListTools(ctx, &p)

	case models.MethodResourcesList:
		var p mcp.ListResourcesParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = c.session.ListResources(ctx, &p)

	case models.MethodPromptsList:
		var p mcp.ListPromptsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = c.session.ListPrompts(ctx, &p)

	case models.MethodToolsCall:
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments,omitempty"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%s: tool name is required", method)
		}
		call := &mcp.CallToolParams{Name: p.Name, Arguments: map[string]interface{}{}}
		if len(p.Arguments) > 0 && string(p.Arguments) != "null" {
			call.Arguments = p.Arguments
		}
		result, err = c.session.CallTool(ctx, call)

	case models.MethodResourcesRead:
		var p mcp.ReadResourceParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = c.session.ReadResource(ctx, &p)

	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotRouted, method)
	}

	if err != nil {
		return nil, c.classify(ctx, method, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", method, err)
	}
	return raw, nil
}

// classify keeps protocol errors and caller cancellation as they are. Anything
// else means the pipe to the process is broken.
func (c *StdioClient) classify(ctx context.Context, method string, err error) error {
	var wireErr *jsonrpc.Error
	switch {
	case errors.As(err, &wireErr):
		return fmt.Errorf("%s failed: %w", method, err)
	case ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%s: %w: %v", method, ErrProcessExited, err)
	}
}

func decodeParams(params interface{}, out interface{}) error {
	var data []byte
	switch p := params.(type) {
	case nil:
		return nil
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		if data, err = json.Marshal(p); err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Done is closed once the session with the server process has ended
func (c *StdioClient) Done() <-chan struct{} {
	return c.done
}

// Close ends the session and stops the server process
func (c *StdioClient) Close() error {
	c.closeOnce.Do(func() {
		closed := make(chan error, 1)
		go func() { closed <- c.session.Close() }()

		select {
		case err := <-closed:
			c.closeErr = exitError(err)
		case <-time.After(closeTimeout):
			if c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
			c.closeErr = fmt.Errorf("server %s did not exit", c.serverID)
		}
	})
	return c.closeErr
}

// exitError drops the exit status a killed or terminated server reports
func exitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// ListTools returns the tools the server advertises
func ListTools(ctx context.Context, c ServerClient) ([]models.Tool, error) {
	var out struct {
		Tools []models.Tool `json:"tools"`
	}
	if err := callInto(ctx, c, models.MethodToolsList, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// ListResources returns the resources the server advertises
func ListResources(ctx context.Context, c ServerClient) ([]models.Resource, error) {
	var out struct {
		Resources []models.Resource `json:"resources"`
	}
	if err := callInto(ctx, c, models.MethodResourcesList, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// ListPrompts returns the prompts the server advertises
func ListPrompts(ctx context.Context, c ServerClient) ([]models.Prompt, error) {
	var out struct {
		Prompts []models.Prompt `json:"prompts"`
	}
	if err := callInto(ctx, c, models.MethodPromptsList, &out); err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

func callInto(ctx context.Context, c ServerClient, method string, out interface{}) error {
	raw, err := c.Call(ctx, method, map[string]interface{}{})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// stderrLogger forwards server stderr to the launcher log line by line
type stderrLogger struct {
	serverID string
	prefix   string
	mu       sync.Mutex
	buf      []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := w.prefix
	if prefix == "" {
		prefix = "[MCP stderr]"
	}

	w.buf = append(w.buf, p...)
	for {
		i := strings.IndexByte(string(w.buf), '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			log.Printf("%s %s: %s", prefix, w.serverID, line)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/logging"
	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/tools"
)

// DefaultMaxParallelTools bounds concurrent calls in one batch
const DefaultMaxParallelTools = 8

// ToolCaller invokes a tool on a specific server
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (*models.CallToolResult, error)
}

// ToolExecutor turns a batch of tool calls into results. Every failure is
// captured in the failing call's own result.
type ToolExecutor struct {
	caller      ToolCaller
	recorder    audit.Recorder
	metrics     *Metrics
	maxParallel int
}

// NewToolExecutor creates an executor. recorder and metrics may be nil.
func NewToolExecutor(caller ToolCaller, recorder audit.Recorder, metrics *Metrics, maxParallel int) *ToolExecutor {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelTools
	}
	return &ToolExecutor{
		caller:      caller,
		recorder:    recorder,
		metrics:     metrics,
		maxParallel: maxParallel,
	}
}

// ResolveTool returns the first tool in available named name
func ResolveTool(name string, available []models.ServerTool) (models.ServerTool, bool) {
	for _, t := range available {
		if t.Name == name {
			return t, true
		}
	}
	return models.ServerTool{}, false
}

// ExecuteToolCall runs one call. It never returns an error: failures come
// back as a result with IsError set.
func (e *ToolExecutor) ExecuteToolCall(ctx context.Context, call models.ToolCall, available []models.ServerTool) models.ToolResult {
	start := time.Now()
	result := models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	tool, found := ResolveTool(call.Name, available)
	logger := logging.WithToolCall(slog.Default(), call.ID, call.Name)
	if found {
		result.ServerID = tool.ServerID
		logger = logging.WithToolCall(logging.WithServer(tool.ServerID, tool.ServerName), call.ID, call.Name)
	}

	switch {
	case !found:
		result.IsError = true
		result.Result = fmt.Sprintf("Tool %q not found on any connected server", call.Name)
	case call.InputError != "":
		result.IsError = true
		result.Result = fmt.Sprintf("Invalid arguments for tool %s: %s", call.Name, call.InputError)
	default:
		raw, err := e.invoke(ctx, tool, call)
		if err != nil {
			result.IsError = true
			result.Result = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
		} else {
			result.IsError = raw.IsError
			result.Result = tools.FormatDisplayResult(raw)
		}
	}

	elapsed := time.Since(start)
	e.metrics.RecordToolExecution(!result.IsError, elapsed.Seconds())

	event := audit.NewEvent(audit.KindToolExecution, !result.IsError, "")
	event.ServerID = tool.ServerID
	event.ServerName = tool.ServerName
	event.ToolName = call.Name
	event.Details = map[string]string{
		"tool_call_id": call.ID,
		"duration_ms":  fmt.Sprintf("%d", elapsed.Milliseconds()),
	}
	if result.IsError {
		event.Reason = tools.StringifyResult(result.Result)
		logger.Warn("tool execution failed", "duration", elapsed, "error", event.Reason)
	} else {
		logger.Debug("tool executed", "duration", elapsed)
	}
	e.recorder.Record(ctx, event)

	return result
}

func (e *ToolExecutor) invoke(ctx context.Context, tool models.ServerTool, call models.ToolCall) (*models.CallToolResult, error) {
	var (
		raw *models.CallToolResult
		err error
	)
	if recovered := panics.Try(func() {
		raw, err = e.caller.CallTool(ctx, tool.ServerID, call.Name, call.Input)
	}); recovered != nil {
		return nil, recovered.AsError()
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = &models.CallToolResult{}
	}
	return raw, nil
}

// ExecuteToolCalls runs every call concurrently and waits for all of them.
// Results are in completion order; correlate them by ToolCallID.
func (e *ToolExecutor) ExecuteToolCalls(ctx context.Context, calls []models.ToolCall, available []models.ServerTool) []models.ToolResult {
	if len(calls) == 0 {
		return []models.ToolResult{}
	}

	var mu sync.Mutex
	results := make([]models.ToolResult, 0, len(calls))

	p := pool.New().WithMaxGoroutines(e.maxParallel)
	for _, call := range calls {
		p.Go(func() {
			result := e.ExecuteToolCall(ctx, call, available)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		})
	}
	p.Wait()

	return results
}

// ExecutionSummary counts the outcomes of a batch
type ExecutionSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summarize counts successes and failures
func Summarize(results []models.ToolResult) ExecutionSummary {
	summary := ExecutionSummary{Total: len(results)}
	for _, r := range results {
		if r.IsError {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	return summary
}

func (s ExecutionSummary) String() string {
	return fmt.Sprintf("Executed %d/%d tools successfully", s.Succeeded, s.Total)
}

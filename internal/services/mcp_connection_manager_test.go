package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/security"
)

func githubConfig() models.ServerConfig {
	return models.ServerConfig{
		ID:      "gh",
		Name:    "GitHub",
		Type:    models.TransportLocalProcess,
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-github"},
		Env: map[string]string{
			"GITHUB_PERSONAL_ACCESS_TOKEN": "ghp_x",
			"AWS_SECRET_ACCESS_KEY":        "nope",
		},
		Enabled: true,
	}
}

func TestConnectLocalProcess(t *testing.T) {
	launcher := &fakeLauncher{
		snapshot: &models.CapabilitySet{
			Tools:     []models.Tool{{Name: "create_issue"}},
			Resources: []models.Resource{{URI: "repo://snapshot", Name: "snapshot"}},
		},
		results: map[string]json.RawMessage{
			models.MethodToolsList:   rawJSON(map[string]interface{}{"tools": []models.Tool{{Name: "create_issue"}, {Name: "search_repos"}}}),
			models.MethodPromptsList: rawJSON(map[string]interface{}{"prompts": []models.Prompt{}}),
		},
	}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher})

	conn, err := m.Connect(context.Background(), githubConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if conn.Status != models.StatusConnected {
		t.Errorf("status = %s", conn.Status)
	}
	if len(conn.Capabilities.Tools) != 2 {
		t.Errorf("expected discovered tools, got %+v", conn.Capabilities.Tools)
	}
	// resources/list is unsupported, so the snapshot list is used
	if len(conn.Capabilities.Resources) != 1 || conn.Capabilities.Resources[0].URI != "repo://snapshot" {
		t.Errorf("expected snapshot resources, got %+v", conn.Capabilities.Resources)
	}
	if conn.Capabilities.Prompts == nil {
		t.Error("prompts should be an empty list, not nil")
	}

	if launcher.connectCount() != 1 {
		t.Fatalf("expected one launcher connect, got %d", launcher.connectCount())
	}
	launched := launcher.connects[0]
	if launched.Command != "npx" {
		t.Errorf("command = %q", launched.Command)
	}
	if launched.Env["GITHUB_PERSONAL_ACCESS_TOKEN"] != "ghp_x" {
		t.Error("permitted key should be passed through")
	}
	if _, ok := launched.Env["AWS_SECRET_ACCESS_KEY"]; ok {
		t.Error("unpermitted key must never reach the launcher")
	}
	if launched.Env["NODE_ENV"] != "production" || launched.Env["PATH"] == "" {
		t.Errorf("baseline env missing: %v", launched.Env)
	}
}

func TestConnectRejectedBySandbox(t *testing.T) {
	launcher := &fakeLauncher{}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher})

	cfg := githubConfig()
	cfg.Args = []string{"-y", "@modelcontextprotocol/server-github", "../../etc/passwd"}

	_, err := m.Connect(context.Background(), cfg)
	var vErr *security.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Code != security.CodePathTraversal {
		t.Errorf("code = %s", vErr.Code)
	}
	if launcher.connectCount() != 0 {
		t.Error("a rejected command must never reach the launcher")
	}

	conn, ok := m.Get(cfg.ID)
	if !ok || conn.Status != models.StatusError || conn.Error == "" {
		t.Errorf("expected error entry, got %+v", conn)
	}
}

func TestConnectWithoutLauncher(t *testing.T) {
	m := NewMCPConnectionManager(ManagerOptions{})
	_, err := m.Connect(context.Background(), githubConfig())
	if !errors.Is(err, ErrLauncherUnavailable) {
		t.Fatalf("expected ErrLauncherUnavailable, got %v", err)
	}
}

func TestConnectInvalidConfig(t *testing.T) {
	m := NewMCPConnectionManager(ManagerOptions{})
	_, err := m.Connect(context.Background(), models.ServerConfig{ID: "x", Type: models.TransportStreamingEndpoint})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, ok := m.Get("x"); ok {
		t.Error("invalid config should not create an entry")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{sessions: map[string]*fakeSession{
		"https://tools.example.com/sse": {tools: []models.Tool{{Name: "echo"}}},
	}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	cfg := streamingConfig("remote", "https://tools.example.com/sse")

	first, err := m.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	second, err := m.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("expected one dial, got %d", dialer.dialCount())
	}
	if !first.ConnectedAt.Equal(second.ConnectedAt) {
		t.Error("connected entry should be returned unchanged")
	}
}

func TestConnectAfterErrorRetries(t *testing.T) {
	url := "https://tools.example.com/sse"
	dialer := &fakeDialer{
		sessions: map[string]*fakeSession{url: {tools: []models.Tool{{Name: "echo"}}}},
		errs:     map[string]error{url: errors.New("connection refused")},
	}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	cfg := streamingConfig("remote", url)

	if _, err := m.Connect(context.Background(), cfg); err == nil {
		t.Fatal("expected first connect to fail")
	}
	if conn, _ := m.Get("remote"); conn.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", conn.Status)
	}

	dialer.mu.Lock()
	delete(dialer.errs, url)
	dialer.mu.Unlock()

	conn, err := m.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if conn.Status != models.StatusConnected || conn.Error != "" {
		t.Errorf("unexpected connection after retry: %+v", conn)
	}
}

func TestConnectRejectsMetadataEndpoint(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer, AllowPrivateEndpoints: true})

	_, err := m.Connect(context.Background(), streamingConfig("meta", "http://169.254.169.254/sse"))
	if err == nil {
		t.Fatal("metadata endpoint should be refused")
	}
	if dialer.dialCount() != 0 {
		t.Error("refused endpoint must not be dialed")
	}
}

func TestConcurrentConnectSameIdentity(t *testing.T) {
	url := "https://tools.example.com/sse"
	dialer := &fakeDialer{sessions: map[string]*fakeSession{url: {tools: []models.Tool{{Name: "echo"}}}}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	cfg := streamingConfig("remote", url)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Connect(context.Background(), cfg); err != nil {
				t.Errorf("Connect failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if dialer.dialCount() != 1 {
		t.Errorf("concurrent connects should open one session, got %d", dialer.dialCount())
	}
	if len(m.Statuses()) != 1 {
		t.Errorf("expected one entry, got %d", len(m.Statuses()))
	}
}

func TestDiscoveryFailureIsAbsorbed(t *testing.T) {
	url := "https://tools.example.com/sse"
	dialer := &fakeDialer{sessions: map[string]*fakeSession{
		url: {toolsErr: errors.New("boom"), prompts: []models.Prompt{{Name: "summarize"}}},
	}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})

	conn, err := m.Connect(context.Background(), streamingConfig("remote", url))
	if err != nil {
		t.Fatalf("discovery failures must not fail the connection: %v", err)
	}
	if len(conn.Capabilities.Tools) != 0 || len(conn.Capabilities.Resources) != 0 {
		t.Errorf("failed lists should be empty: %+v", conn.Capabilities)
	}
	if len(conn.Capabilities.Prompts) != 1 {
		t.Errorf("successful list should survive: %+v", conn.Capabilities.Prompts)
	}
}

func TestGetAllToolsOnlyConnected(t *testing.T) {
	dialer := &fakeDialer{
		sessions: map[string]*fakeSession{
			"https://a.example.com/sse": {tools: []models.Tool{{Name: "shared"}, {Name: "only_a"}}},
			"https://b.example.com/sse": {tools: []models.Tool{{Name: "shared"}}},
		},
		errs: map[string]error{"https://c.example.com/sse": errors.New("down")},
	}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	ctx := context.Background()

	if _, err := m.Connect(ctx, streamingConfig("b", "https://b.example.com/sse")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := m.Connect(ctx, streamingConfig("a", "https://a.example.com/sse")); err != nil {
		t.Fatal(err)
	}
	_, _ = m.Connect(ctx, streamingConfig("c", "https://c.example.com/sse"))

	all := m.GetAllTools()
	if len(all) != 3 {
		t.Fatalf("expected 3 tools, got %+v", all)
	}
	// b connected first, so it owns the shared name
	if all[0].ServerID != "b" || all[0].Name != "shared" {
		t.Errorf("unexpected first tool: %+v", all[0])
	}
	for _, tool := range all {
		if tool.ServerID == "c" {
			t.Error("tools from an errored server must not be listed")
		}
	}

	if err := m.Disconnect(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	for _, tool := range m.GetAllTools() {
		if tool.ServerID == "b" {
			t.Error("tools from a disconnected server must not be listed")
		}
	}
}

func TestCallToolRouting(t *testing.T) {
	launcher := &fakeLauncher{
		snapshot: &models.CapabilitySet{Tools: []models.Tool{{Name: "create_issue"}}},
		results: map[string]json.RawMessage{
			models.MethodToolsCall:     rawJSON(models.CallToolResult{Content: []models.ContentItem{{Type: "text", Text: "created #1"}}}),
			models.MethodResourcesRead: rawJSON(models.ReadResourceResult{Contents: []models.ResourceContents{{URI: "repo://x", Text: "x"}}}),
		},
	}
	session := &fakeSession{
		tools:      []models.Tool{{Name: "echo"}},
		callResult: &models.CallToolResult{Content: []models.ContentItem{{Type: "text", Text: "hi"}}},
	}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"https://tools.example.com/sse": session}}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher, Dialer: dialer})
	ctx := context.Background()

	if _, err := m.Connect(ctx, githubConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect(ctx, streamingConfig("remote", "https://tools.example.com/sse")); err != nil {
		t.Fatal(err)
	}

	local, err := m.CallTool(ctx, "gh", "create_issue", map[string]interface{}{"title": "bug"})
	if err != nil {
		t.Fatalf("local CallTool failed: %v", err)
	}
	if local.Content[0].Text != "created #1" {
		t.Errorf("unexpected local result: %+v", local)
	}
	calls := launcher.requestsFor(models.MethodToolsCall)
	if len(calls) != 1 || calls[0].serverID != "gh" || !strings.Contains(string(calls[0].params), `"title":"bug"`) {
		t.Errorf("unexpected launcher request: %+v", calls)
	}

	remote, err := m.CallTool(ctx, "remote", "echo", nil)
	if err != nil {
		t.Fatalf("remote CallTool failed: %v", err)
	}
	if remote.Content[0].Text != "hi" {
		t.Errorf("unexpected remote result: %+v", remote)
	}

	res, err := m.ReadResource(ctx, "gh", "repo://x")
	if err != nil || len(res.Contents) != 1 || res.Contents[0].URI != "repo://x" {
		t.Errorf("ReadResource = %+v, %v", res, err)
	}
}

func TestCallToolRejectsUnknownAndUnconnected(t *testing.T) {
	dialer := &fakeDialer{errs: map[string]error{"https://down.example.com/sse": errors.New("down")}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	ctx := context.Background()

	if _, err := m.CallTool(ctx, "missing", "x", nil); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}

	_, _ = m.Connect(ctx, streamingConfig("down", "https://down.example.com/sse"))
	if _, err := m.CallTool(ctx, "down", "x", nil); !errors.Is(err, ErrServerNotConnected) {
		t.Errorf("expected ErrServerNotConnected, got %v", err)
	}
	if _, err := m.ReadResource(ctx, "down", "file:///x"); !errors.Is(err, ErrServerNotConnected) {
		t.Errorf("expected ErrServerNotConnected, got %v", err)
	}
}

func TestCallToolTimeout(t *testing.T) {
	url := "https://slow.example.com/sse"
	dialer := &fakeDialer{sessions: map[string]*fakeSession{url: {block: true}}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer, CallTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if _, err := m.Connect(ctx, streamingConfig("slow", url)); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := m.CallTool(ctx, "slow", "hang", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("call timeout was not applied")
	}
}

func TestDisconnectAllSettles(t *testing.T) {
	ok := &fakeSession{}
	failing := &fakeSession{closeErr: errors.New("close failed")}
	panicking := &fakeSession{closePanic: true}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{
		"https://ok.example.com/sse":    ok,
		"https://fail.example.com/sse":  failing,
		"https://panic.example.com/sse": panicking,
	}}
	m := NewMCPConnectionManager(ManagerOptions{Dialer: dialer})
	ctx := context.Background()

	for _, id := range []string{"ok", "fail", "panic"} {
		if _, err := m.Connect(ctx, streamingConfig(id, "https://"+id+".example.com/sse")); err != nil {
			t.Fatal(err)
		}
	}

	err := m.DisconnectAll(ctx)
	if err == nil {
		t.Fatal("expected joined errors")
	}
	if !strings.Contains(err.Error(), "close failed") || !strings.Contains(err.Error(), "close exploded") {
		t.Errorf("both failures should be reported: %v", err)
	}
	if !ok.isClosed() || !failing.isClosed() {
		t.Error("every session should have been closed")
	}
	if len(m.Statuses()) != 0 {
		t.Errorf("registry should be empty, got %+v", m.Statuses())
	}
}

func TestDisconnect(t *testing.T) {
	launcher := &fakeLauncher{snapshot: &models.CapabilitySet{}}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher})
	ctx := context.Background()

	if err := m.Disconnect(ctx, "gh"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}

	if _, err := m.Connect(ctx, githubConfig()); err != nil {
		t.Fatal(err)
	}
	before := m.Generation()
	if err := m.Disconnect(ctx, "gh"); err != nil {
		t.Fatal(err)
	}
	if len(launcher.disconnects) != 1 || launcher.disconnects[0] != "gh" {
		t.Errorf("launcher should stop the server: %v", launcher.disconnects)
	}
	if m.Generation() == before {
		t.Error("generation should change on disconnect")
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d", m.Count())
	}
}

func TestMarkTransportLost(t *testing.T) {
	launcher := &fakeLauncher{snapshot: &models.CapabilitySet{Tools: []models.Tool{{Name: "create_issue"}}}}
	dialer := &fakeDialer{sessions: map[string]*fakeSession{"https://tools.example.com/sse": {tools: []models.Tool{{Name: "echo"}}}}}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher, Dialer: dialer})
	ctx := context.Background()

	if _, err := m.Connect(ctx, githubConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect(ctx, streamingConfig("remote", "https://tools.example.com/sse")); err != nil {
		t.Fatal(err)
	}

	if n := m.MarkTransportLost(models.TransportLocalProcess, "launcher disconnected"); n != 1 {
		t.Fatalf("expected one lost connection, got %d", n)
	}
	conn, _ := m.Get("gh")
	if conn.Status != models.StatusError || conn.Error != "launcher disconnected" {
		t.Errorf("unexpected entry: %+v", conn)
	}
	tools := m.GetAllTools()
	if len(tools) != 1 || tools[0].ServerID != "remote" {
		t.Errorf("only the streaming server should remain: %+v", tools)
	}

	// Reconnecting tears down the stale entry and launches again
	if _, err := m.Connect(ctx, githubConfig()); err != nil {
		t.Fatal(err)
	}
	if launcher.connectCount() != 2 {
		t.Errorf("expected a second launch, got %d", launcher.connectCount())
	}
}

func TestConnectTimeoutStopsLauncherSpawn(t *testing.T) {
	launcher := &fakeLauncher{blockConnect: true}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher, ConnectTimeout: 50 * time.Millisecond})

	_, err := m.Connect(context.Background(), githubConfig())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := launcher.disconnected(); len(got) != 1 || got[0] != "gh" {
		t.Fatalf("launcher should be told to stop the spawn, disconnects=%v", got)
	}

	conn, ok := m.Get("gh")
	if !ok || conn.Status != models.StatusError {
		t.Errorf("expected error entry, got %+v", conn)
	}
	if err := m.Disconnect(context.Background(), "gh"); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
}

func TestConnectWithoutLinkSkipsStop(t *testing.T) {
	launcher := &fakeLauncher{connectErr: ErrLauncherUnavailable}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher})

	if _, err := m.Connect(context.Background(), githubConfig()); !errors.Is(err, ErrLauncherUnavailable) {
		t.Fatalf("expected ErrLauncherUnavailable, got %v", err)
	}
	if got := launcher.disconnected(); len(got) != 0 {
		t.Errorf("nothing was spawned, so nothing should be stopped: %v", got)
	}
}

func TestConnectFailsWhenLinkDropsMidConnect(t *testing.T) {
	launcher := &fakeLauncher{snapshot: &models.CapabilitySet{Tools: []models.Tool{{Name: "create_issue"}}}}
	m := NewMCPConnectionManager(ManagerOptions{Launcher: launcher})
	launcher.onConnect = func() {
		m.MarkTransportLost(models.TransportLocalProcess, "launcher disconnected")
	}

	_, err := m.Connect(context.Background(), githubConfig())
	if !errors.Is(err, ErrLauncherUnavailable) {
		t.Fatalf("expected ErrLauncherUnavailable, got %v", err)
	}

	conn, ok := m.Get("gh")
	if !ok || conn.Status != models.StatusError {
		t.Errorf("expected error entry, got %+v", conn)
	}
	if tools := m.GetAllTools(); len(tools) != 0 {
		t.Errorf("tools of a lost server must not be visible: %+v", tools)
	}
	if m.Count() != 0 {
		t.Errorf("connected count = %d", m.Count())
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
		close(released)
	}()

	// Other keys are independent
	k.Lock("b")()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key should wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
	<-released

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks should be released, got %d", len(k.locks))
	}
}

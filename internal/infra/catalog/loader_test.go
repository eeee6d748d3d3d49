package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/orchestrator"
)

func TestLoader_Success(t *testing.T) {
	file := writeTempConfig(t, `
listenAddress: "127.0.0.1:9999"
defaultServer: apollo
model:
  provider: openai
  model: gpt-4o-mini
  apiKeyEnvVar: OPENAI_API_KEY
servers:
  - id: apollo
    displayName: Apollo
    transport: process
    command: ["./apollo-server", "--verbose"]
    env:
      APOLLO_TOKEN: secret
    routingKeywords: ["astronaut", "space"]
  - id: browser
    transport: http
    endpoint: "https://tools.example.com/mcp"
    headers:
      Authorization: "Bearer abc"
    routingKeywords: ["screenshot", "navigate"]
	`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	expect := domain.ServerDescriptor{
		ServerID:        "apollo",
		DisplayName:     "Apollo",
		Transport:       domain.TransportProcess,
		Command:         []string{"./apollo-server", "--verbose"},
		Env:             map[string]string{"APOLLO_TOKEN": "secret"},
		RoutingKeywords: []string{"astronaut", "space"},
	}
	if diff := cmp.Diff(expect, cfg.Servers[0]); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddress)
	require.Equal(t, "apollo", cfg.DefaultServer)
	require.Equal(t, domain.TransportHTTP, cfg.Servers[1].Transport)
	require.Equal(t, map[string]string{"Authorization": "Bearer abc"}, cfg.Servers[1].Headers)
	require.Equal(t, orchestrator.ModelConfig{
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		APIKeyEnvVar: "OPENAI_API_KEY",
	}, cfg.Model)
}

func TestLoader_Defaults(t *testing.T) {
	file := writeTempConfig(t, `
servers:
  - id: only
    transport: process
    command: ["./svc"]
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)

	require.Equal(t, domain.DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, domain.DefaultObservabilityAddress, cfg.ObservabilityAddress)
	require.Equal(t, domain.DefaultStorePath, cfg.StorePath)
	require.Equal(t, domain.DefaultSystemPrompt, cfg.SystemPrompt)
	require.Equal(t, domain.DefaultIdleWindow, cfg.Pool.IdleWindow)
	require.Equal(t, domain.DefaultSweepInterval, cfg.Pool.SweepInterval)
	require.Equal(t, domain.DefaultConnectTimeout, cfg.Pool.ConnectTimeout)
	require.Equal(t, domain.DefaultMaxRounds, cfg.Chat.MaxRounds)
	require.Equal(t, domain.DefaultInvokeTimeout, cfg.Chat.InvokeTimeout)
	require.Equal(t, domain.DefaultModelTimeout, cfg.Chat.ModelTimeout)
}

func TestLoader_TransportAliases(t *testing.T) {
	file := writeTempConfig(t, `
servers:
  - id: a
    transport: stdio
    command: ["./a"]
  - id: b
    transport: sse
    endpoint: "http://localhost:3000/sse"
  - id: c
    transport: streamable-http
    endpoint: "http://localhost:3001/mcp"
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, domain.TransportProcess, cfg.Servers[0].Transport)
	require.Equal(t, domain.TransportEventStream, cfg.Servers[1].Transport)
	require.Equal(t, domain.TransportHTTP, cfg.Servers[2].Transport)
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("TOOL_ENDPOINT", "https://tools.example.com/mcp")
	t.Setenv("MAX_ROUNDS", "12")
	file := writeTempConfig(t, `
chat:
  maxRounds: ${MAX_ROUNDS}
servers:
  - id: remote
    transport: http
    endpoint: "${TOOL_ENDPOINT}"
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "https://tools.example.com/mcp", cfg.Servers[0].Endpoint)
	require.Equal(t, 12, cfg.Chat.MaxRounds)
}

func TestLoader_DuplicateServerID(t *testing.T) {
	file := writeTempConfig(t, `
servers:
  - id: dup
    transport: process
    command: ["./a"]
  - id: dup
    transport: process
    command: ["./b"]
`)

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate id")
}

func TestLoader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name: "missing id",
			config: `
servers:
  - transport: process
    command: ["./a"]
`,
			wantErr: "id is required",
		},
		{
			name: "process without command",
			config: `
servers:
  - id: a
    transport: process
`,
			wantErr: "command is required",
		},
		{
			name: "http without endpoint",
			config: `
servers:
  - id: a
    transport: http
`,
			wantErr: "endpoint is required",
		},
		{
			name: "http with command",
			config: `
servers:
  - id: a
    transport: http
    endpoint: "http://localhost:3000/mcp"
    command: ["./a"]
`,
			wantErr: "command must be empty",
		},
		{
			name: "bad endpoint",
			config: `
servers:
  - id: a
    transport: sse
    endpoint: "not a url"
`,
			wantErr: "valid http(s) URL",
		},
		{
			name: "unknown transport",
			config: `
servers:
  - id: a
    transport: carrier-pigeon
`,
			wantErr: "transport must be",
		},
		{
			name: "reserved header",
			config: `
servers:
  - id: a
    transport: http
    endpoint: "http://localhost:3000/mcp"
    headers:
      Mcp-Session-Id: "fixed"
`,
			wantErr: "reserved",
		},
		{
			name: "unknown default server",
			config: `
defaultServer: ghost
servers:
  - id: a
    transport: process
    command: ["./a"]
`,
			wantErr: `defaultServer "ghost"`,
		},
		{
			name: "bad pool tuning",
			config: `
pool:
  idleSeconds: 0
servers: []
`,
			wantErr: "pool.idleSeconds",
		},
		{
			name: "bad chat tuning",
			config: `
chat:
  maxRounds: -1
servers: []
`,
			wantErr: "chat.maxRounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeTempConfig(t, tt.config)
			loader := NewLoader(zap.NewNop())
			_, err := loader.Load(context.Background(), file)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_NoServers(t *testing.T) {
	file := writeTempConfig(t, `
servers: []
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Empty(t, cfg.Servers)
}

func TestLoader_ContextCanceled(t *testing.T) {
	file := writeTempConfig(t, `
servers: []
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(ctx, file)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWatcher_ReloadAppliesNewConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpgate.yaml")
	writeConfigFile(t, path, `
servers:
  - id: first
    transport: process
    command: ["./first"]
`)

	loader := NewLoader(zap.NewNop())
	applied := make(chan Config, 1)
	watcher := NewWatcher(loader, path, zap.NewNop(), func(cfg Config) {
		applied <- cfg
	})

	writeConfigFile(t, path, `
servers:
  - id: second
    transport: process
    command: ["./second"]
`)
	watcher.Reload(context.Background())

	select {
	case cfg := <-applied:
		require.Len(t, cfg.Servers, 1)
		require.Equal(t, "second", cfg.Servers[0].ServerID)
	case <-time.After(time.Second):
		t.Fatal("config was not applied")
	}
}

func TestWatcher_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpgate.yaml")
	writeConfigFile(t, path, `
servers:
  - id: broken
    transport: process
`)

	loader := NewLoader(zap.NewNop())
	var calls int
	watcher := NewWatcher(loader, path, zap.NewNop(), func(Config) { calls++ })
	watcher.Reload(context.Background())
	require.Zero(t, calls)
}

func TestShouldReloadForPath(t *testing.T) {
	require.True(t, shouldReloadForPath("/etc/mcpgate/config.yaml", "/etc/mcpgate/config.yaml"))
	require.True(t, shouldReloadForPath("/etc/mcpgate/./config.yaml", "/etc/mcpgate/config.yaml"))
	require.False(t, shouldReloadForPath("/etc/mcpgate/other.yaml", "/etc/mcpgate/config.yaml"))
	require.False(t, shouldReloadForPath("", "/etc/mcpgate/config.yaml"))
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mcpgate.yaml")
	writeConfigFile(t, path, content)
	return path
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()

	normalized := strings.ReplaceAll(content, "\t", "  ")
	if err := os.WriteFile(path, []byte(normalized), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
}

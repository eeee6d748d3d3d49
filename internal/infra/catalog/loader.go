// Package catalog loads the gateway configuration file: the tool-server
// registry, pool and chat tuning, and the model credentials. Config files are
// YAML with ${VAR} environment expansion.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/orchestrator"
)

// Config is the fully normalized gateway configuration.
type Config struct {
	ListenAddress        string
	ObservabilityAddress string
	StorePath            string
	DefaultServer        string
	SystemPrompt         string
	Pool                 PoolConfig
	Chat                 ChatConfig
	Model                orchestrator.ModelConfig
	Servers              []domain.ServerDescriptor
}

// PoolConfig tunes the session pool.
type PoolConfig struct {
	IdleWindow     time.Duration
	SweepInterval  time.Duration
	ConnectTimeout time.Duration
}

// ChatConfig tunes the orchestration loop.
type ChatConfig struct {
	MaxRounds     int
	InvokeTimeout time.Duration
	ModelTimeout  time.Duration
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setConfigDefaults(v)
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", domain.DefaultListenAddress)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
	v.SetDefault("store.path", domain.DefaultStorePath)
	v.SetDefault("systemPrompt", domain.DefaultSystemPrompt)
	v.SetDefault("pool.idleSeconds", int(domain.DefaultIdleWindow/time.Second))
	v.SetDefault("pool.sweepSeconds", int(domain.DefaultSweepInterval/time.Second))
	v.SetDefault("pool.connectTimeoutSeconds", int(domain.DefaultConnectTimeout/time.Second))
	v.SetDefault("chat.maxRounds", domain.DefaultMaxRounds)
	v.SetDefault("chat.invokeTimeoutSeconds", int(domain.DefaultInvokeTimeout/time.Second))
	v.SetDefault("chat.modelTimeoutSeconds", int(domain.DefaultModelTimeout/time.Second))
}

type rawConfig struct {
	ListenAddress string                   `mapstructure:"listenAddress"`
	Observability rawObservabilityConfig   `mapstructure:"observability"`
	Store         rawStoreConfig           `mapstructure:"store"`
	DefaultServer string                   `mapstructure:"defaultServer"`
	SystemPrompt  string                   `mapstructure:"systemPrompt"`
	Pool          rawPoolConfig            `mapstructure:"pool"`
	Chat          rawChatConfig            `mapstructure:"chat"`
	Model         orchestrator.ModelConfig `mapstructure:"model"`
	Servers       []rawServerSpec          `mapstructure:"servers"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawStoreConfig struct {
	Path string `mapstructure:"path"`
}

type rawPoolConfig struct {
	IdleSeconds           int `mapstructure:"idleSeconds"`
	SweepSeconds          int `mapstructure:"sweepSeconds"`
	ConnectTimeoutSeconds int `mapstructure:"connectTimeoutSeconds"`
}

type rawChatConfig struct {
	MaxRounds            int `mapstructure:"maxRounds"`
	InvokeTimeoutSeconds int `mapstructure:"invokeTimeoutSeconds"`
	ModelTimeoutSeconds  int `mapstructure:"modelTimeoutSeconds"`
}

type rawServerSpec struct {
	ID              string            `mapstructure:"id"`
	DisplayName     string            `mapstructure:"displayName"`
	Transport       string            `mapstructure:"transport"`
	Command         []string          `mapstructure:"command"`
	Env             map[string]string `mapstructure:"env"`
	Endpoint        string            `mapstructure:"endpoint"`
	Headers         map[string]string `mapstructure:"headers"`
	CapabilityTags  []string          `mapstructure:"capabilityTags"`
	RoutingKeywords []string          `mapstructure:"routingKeywords"`
}

// Load reads, expands, decodes, and validates the config file at path.
func (l *Loader) Load(ctx context.Context, path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	cfg, errs := normalizeConfig(raw)
	if len(errs) > 0 {
		return Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func normalizeConfig(raw rawConfig) (Config, []string) {
	var errs []string

	if raw.Pool.IdleSeconds <= 0 {
		errs = append(errs, "pool.idleSeconds must be > 0")
	}
	if raw.Pool.SweepSeconds <= 0 {
		errs = append(errs, "pool.sweepSeconds must be > 0")
	}
	if raw.Pool.ConnectTimeoutSeconds <= 0 {
		errs = append(errs, "pool.connectTimeoutSeconds must be > 0")
	}
	if raw.Chat.MaxRounds <= 0 {
		errs = append(errs, "chat.maxRounds must be > 0")
	}
	if raw.Chat.InvokeTimeoutSeconds <= 0 {
		errs = append(errs, "chat.invokeTimeoutSeconds must be > 0")
	}
	if raw.Chat.ModelTimeoutSeconds <= 0 {
		errs = append(errs, "chat.modelTimeoutSeconds must be > 0")
	}

	servers := make([]domain.ServerDescriptor, 0, len(raw.Servers))
	seen := make(map[string]struct{}, len(raw.Servers))
	for i, spec := range raw.Servers {
		desc := normalizeServerSpec(spec)
		if _, dup := seen[desc.ServerID]; dup {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate id %q", i, desc.ServerID))
			continue
		}
		if desc.ServerID != "" {
			seen[desc.ServerID] = struct{}{}
		}
		if specErrs := validateServerSpec(desc, i); len(specErrs) > 0 {
			errs = append(errs, specErrs...)
			continue
		}
		servers = append(servers, desc)
	}

	defaultServer := strings.TrimSpace(raw.DefaultServer)
	if defaultServer != "" {
		if _, ok := seen[defaultServer]; !ok {
			errs = append(errs, fmt.Sprintf("defaultServer %q is not a configured server", defaultServer))
		}
	}

	return Config{
		ListenAddress:        strings.TrimSpace(raw.ListenAddress),
		ObservabilityAddress: strings.TrimSpace(raw.Observability.ListenAddress),
		StorePath:            strings.TrimSpace(raw.Store.Path),
		DefaultServer:        defaultServer,
		SystemPrompt:         raw.SystemPrompt,
		Pool: PoolConfig{
			IdleWindow:     time.Duration(raw.Pool.IdleSeconds) * time.Second,
			SweepInterval:  time.Duration(raw.Pool.SweepSeconds) * time.Second,
			ConnectTimeout: time.Duration(raw.Pool.ConnectTimeoutSeconds) * time.Second,
		},
		Chat: ChatConfig{
			MaxRounds:     raw.Chat.MaxRounds,
			InvokeTimeout: time.Duration(raw.Chat.InvokeTimeoutSeconds) * time.Second,
			ModelTimeout:  time.Duration(raw.Chat.ModelTimeoutSeconds) * time.Second,
		},
		Model:   raw.Model,
		Servers: servers,
	}, errs
}

func normalizeServerSpec(raw rawServerSpec) domain.ServerDescriptor {
	keywords := make([]string, 0, len(raw.RoutingKeywords))
	for _, kw := range raw.RoutingKeywords {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	if len(keywords) == 0 {
		keywords = nil
	}

	return domain.ServerDescriptor{
		ServerID:        strings.TrimSpace(raw.ID),
		DisplayName:     strings.TrimSpace(raw.DisplayName),
		Transport:       domain.NormalizeTransport(strings.TrimSpace(raw.Transport)),
		Endpoint:        strings.TrimSpace(raw.Endpoint),
		Command:         raw.Command,
		Env:             raw.Env,
		Headers:         normalizeHTTPHeaders(raw.Headers),
		CapabilityTags:  raw.CapabilityTags,
		RoutingKeywords: keywords,
	}
}

func normalizeHTTPHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(map[string]string, len(headers))
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		value := strings.TrimSpace(headers[key])
		if trimmedKey == "" {
			normalized[""] = value
			continue
		}
		normalized[http.CanonicalHeaderKey(trimmedKey)] = value
	}
	return normalized
}

func validateServerSpec(desc domain.ServerDescriptor, index int) []string {
	var errs []string

	if desc.ServerID == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: id is required", index))
	}

	switch desc.Transport {
	case domain.TransportProcess:
		if len(desc.Command) == 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: command is required for process transport", index))
		}
		if desc.Endpoint != "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: endpoint must be empty for process transport", index))
		}
		if len(desc.Headers) > 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers must be empty for process transport", index))
		}
	case domain.TransportEventStream, domain.TransportHTTP:
		if len(desc.Command) > 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: command must be empty for %s transport (external connection)", index, desc.Transport))
		}
		if len(desc.Env) > 0 {
			errs = append(errs, fmt.Sprintf("servers[%d]: env must be empty for %s transport (external connection)", index, desc.Transport))
		}
		if desc.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: endpoint is required for %s transport", index, desc.Transport))
		} else if !isValidEndpoint(desc.Endpoint) {
			errs = append(errs, fmt.Sprintf("servers[%d]: endpoint must be a valid http(s) URL", index))
		}
		errs = append(errs, validateHeaders(desc.Headers, index)...)
	default:
		errs = append(errs, fmt.Sprintf("servers[%d]: transport must be process, event-stream, or http", index))
	}

	return errs
}

func isValidEndpoint(endpoint string) bool {
	if strings.Contains(endpoint, " ") {
		return false
	}
	parsed, err := url.ParseRequestURI(endpoint)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func validateHeaders(headers map[string]string, index int) []string {
	var errs []string
	for key, value := range headers {
		name := strings.TrimSpace(key)
		if name == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers contains empty header name", index))
			continue
		}
		if isReservedHTTPHeader(name) {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers.%s is reserved and managed by transport", index, name))
		}
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers.%s must not be empty", index, name))
		}
	}
	return errs
}

func isReservedHTTPHeader(header string) bool {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "content-type", "accept", "mcp-protocol-version", "mcp-session-id", "last-event-id",
		"host", "content-length", "transfer-encoding", "connection":
		return true
	default:
		return false
	}
}

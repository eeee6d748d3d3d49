package app

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/catalog"
)

// ValidateOptions carries command-line settings into ValidateConfig.
type ValidateOptions struct {
	ConfigPath string
}

type validationSummary struct {
	ListenAddress        string          `yaml:"listenAddress"`
	ObservabilityAddress string          `yaml:"observabilityAddress"`
	StorePath            string          `yaml:"storePath"`
	DefaultServer        string          `yaml:"defaultServer,omitempty"`
	Servers              []serverSummary `yaml:"servers"`
}

type serverSummary struct {
	ID              string   `yaml:"id"`
	Transport       string   `yaml:"transport"`
	RoutingKeywords []string `yaml:"routingKeywords,omitempty"`
}

// ValidateConfig loads and validates the catalog file, then prints the
// normalized view so operators can confirm what the gateway would run with.
func (a *App) ValidateConfig(ctx context.Context, opts ValidateOptions) error {
	loader := catalog.NewLoader(a.logger)
	config, err := loader.Load(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	summary := validationSummary{
		ListenAddress:        config.ListenAddress,
		ObservabilityAddress: config.ObservabilityAddress,
		StorePath:            config.StorePath,
		DefaultServer:        config.DefaultServer,
		Servers:              make([]serverSummary, 0, len(config.Servers)),
	}
	for _, desc := range config.Servers {
		summary.Servers = append(summary.Servers, serverSummary{
			ID:              desc.ServerID,
			Transport:       string(domain.NormalizeTransport(string(desc.Transport))),
			RoutingKeywords: desc.RoutingKeywords,
		})
	}

	out, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Fprintf(os.Stdout, "configuration valid: %s\n%s", opts.ConfigPath, out)
	return nil
}

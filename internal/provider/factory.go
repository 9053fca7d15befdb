package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aristath/crew/internal/config"
)

// New builds the configured provider wrapped in Resilient.
// The ProcessManager is optional and only used by the cli provider.
func New(cfg config.ProviderConfig, pm *ProcessManager, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Provider
		err  error
	)
	switch cfg.Type {
	case "cli":
		base, err = NewCLIProvider(CLIConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Output:  cfg.Output,
			Model:   cfg.Model,
		}, pm)
		if err != nil {
			return nil, err
		}
	case "echo":
		base = &EchoProvider{}
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	name := cfg.Type
	if cfg.Type == "cli" {
		name = cfg.Command
	}
	return NewResilient(base, ResilientConfig{
		Name:        name,
		Timeout:     cfg.Timeout.Std(),
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout.Std(),
	}, logger.With(zap.String("component", "provider"))), nil
}

// RoleOverrides extracts non-empty role prompts from config for NewInstructions.
func RoleOverrides(roles map[string]config.RoleConfig) map[string]string {
	out := make(map[string]string, len(roles))
	for name, rc := range roles {
		if rc.SystemPrompt != "" {
			out[name] = rc.SystemPrompt
		}
	}
	return out
}

package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// agentConfigOverride is one agent's row in a SCHEDULER_CONFIG_PATH file.
// Every field is optional and a string duration ("2h30m") so the file stays
// hand-editable; an omitted field keeps DefaultAgentConfigs' value for that
// agent.
type agentConfigOverride struct {
	Interval   string `json:"interval,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Retries    *int   `json:"retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// agentConfigFile is the on-disk shape of a SCHEDULER_CONFIG_PATH document:
// a flat map keyed by agent type name ("imperium", "guardian", "sandbox",
// "conquest").
type agentConfigFile map[string]agentConfigOverride

// LoadAgentConfigs returns DefaultAgentConfigs with any overrides from the
// JSON file at path applied on top. An empty path returns the defaults
// unmodified, matching SCHEDULER_CONFIG_PATH's optional status.
func LoadAgentConfigs(path string) (map[domain.AgentType]AgentConfig, error) {
	base := DefaultAgentConfigs()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheduler config %s: %w", path, err)
	}

	var file agentConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scheduler config %s: %w", path, err)
	}

	for name, override := range file {
		agentType := domain.AgentType(name)
		cfg, ok := base[agentType]
		if !ok {
			return nil, fmt.Errorf("scheduler config %s: unknown agent type %q", path, name)
		}
		if err := applyOverride(&cfg, override); err != nil {
			return nil, fmt.Errorf("scheduler config %s: agent %q: %w", path, name, err)
		}
		base[agentType] = cfg
	}
	return base, nil
}

func applyOverride(cfg *AgentConfig, override agentConfigOverride) error {
	if override.Interval != "" {
		d, err := time.ParseDuration(override.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", override.Interval, err)
		}
		cfg.Interval = d
	}
	if override.Timeout != "" {
		d, err := time.ParseDuration(override.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", override.Timeout, err)
		}
		cfg.Timeout = d
	}
	if override.RetryDelay != "" {
		d, err := time.ParseDuration(override.RetryDelay)
		if err != nil {
			return fmt.Errorf("invalid retry_delay %q: %w", override.RetryDelay, err)
		}
		cfg.RetryDelay = d
	}
	if override.Retries != nil {
		if *override.Retries < 0 {
			return fmt.Errorf("retries must be non-negative, got %d", *override.Retries)
		}
		cfg.Retries = *override.Retries
	}
	return nil
}

// Package tools maps profile tool configs to executable Go implementations
// exposed to the model as function specs.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rehberai/internal/tenant"
	"rehberai/pkg/ai"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrToolDisabled     = errors.New("tool not enabled for profile")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Invocation carries the scope of a tool call.
type Invocation struct {
	TenantID   string
	ProfileKey string
	Config     tenant.ToolConfig
}

// Tool is an executable model function.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Run(ctx context.Context, args map[string]any, inv Invocation) (string, error)
}

// Registry holds all known tool implementations. Profiles opt in per tool
// through their tenant configuration.
type Registry struct {
	impls map[string]Tool
}

// NewRegistry builds a registry with the built-in tools.
func NewRegistry() *Registry {
	r := &Registry{impls: make(map[string]Tool)}
	r.Register(currentDateTimeTool{})
	return r
}

// Register adds a tool implementation.
func (r *Registry) Register(tool Tool) {
	r.impls[tool.Name()] = tool
}

// Specs returns function specs for the tools enabled on the profile.
func (r *Registry) Specs(profile tenant.ProfileConfig) []ai.ToolSpec {
	var specs []ai.ToolSpec
	for _, cfg := range profile.Tools {
		if !cfg.IsEnabled() {
			continue
		}
		impl, ok := r.impls[cfg.Name]
		if !ok {
			continue
		}
		description := impl.Description()
		if cfg.Description != "" {
			description = cfg.Description
		}
		specs = append(specs, ai.ToolSpec{
			Name:        impl.Name(),
			Description: description,
			Parameters:  impl.Parameters(),
		})
	}
	return specs
}

// Execute runs a tool requested by the model for the given profile.
func (r *Registry) Execute(ctx context.Context, tenantID string, profile tenant.ProfileConfig, toolName, argumentsJSON string) (string, error) {
	impl, ok := r.impls[toolName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	cfg, ok := findToolConfig(profile, toolName)
	if !ok || !cfg.IsEnabled() {
		return "", fmt.Errorf("%w: %s", ErrToolDisabled, toolName)
	}
	args := map[string]any{}
	if trimmed := strings.TrimSpace(argumentsJSON); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	return impl.Run(ctx, args, Invocation{
		TenantID:   tenantID,
		ProfileKey: profile.Key,
		Config:     cfg,
	})
}

func findToolConfig(profile tenant.ProfileConfig, toolName string) (tenant.ToolConfig, bool) {
	for _, cfg := range profile.Tools {
		if cfg.Name == toolName {
			return cfg, true
		}
	}
	return tenant.ToolConfig{}, false
}

type currentDateTimeTool struct{}

func (currentDateTimeTool) Name() string { return "current_datetime" }

func (currentDateTimeTool) Description() string {
	return "Mevcut tarihi ve saati UTC olarak dondurur."
}

func (currentDateTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

func (currentDateTimeTool) Run(_ context.Context, _ map[string]any, inv Invocation) (string, error) {
	payload := map[string]string{
		"utc_datetime": time.Now().UTC().Format(time.RFC3339),
		"tenant_id":    inv.TenantID,
		"profile_key":  inv.ProfileKey,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

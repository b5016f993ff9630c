// Package tenant loads the tenant/profile configuration that scopes every
// chat and retrieval operation.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTenantNotFound  = errors.New("tenant not configured")
	ErrProfileNotFound = errors.New("profile not configured")
)

// ToolConfig enables a registered tool for a profile.
type ToolConfig struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// IsEnabled treats a missing enabled field as true.
func (t ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// ProfileConfig describes one audience profile of a tenant.
type ProfileConfig struct {
	Key              string       `json:"key"`
	DisplayName      string       `json:"display_name,omitempty"`
	VectorCollection string       `json:"vector_collection"`
	SourcePaths      []string     `json:"source_paths,omitempty"`
	PromptTemplate   string       `json:"prompt_template,omitempty"`
	SummaryContext   string       `json:"summary_context,omitempty"`
	Tools            []ToolConfig `json:"tools,omitempty"`
}

// Config holds all profiles of one tenant.
type Config struct {
	TenantID       string                   `json:"tenant_id"`
	DefaultProfile string                   `json:"default_profile"`
	Profiles       map[string]ProfileConfig `json:"profiles"`
}

// Profile resolves a profile key within the tenant.
func (c Config) Profile(profileKey string) (ProfileConfig, error) {
	profile, ok := c.Profiles[profileKey]
	if !ok {
		return ProfileConfig{}, fmt.Errorf("%w: %q for tenant %q", ErrProfileNotFound, profileKey, c.TenantID)
	}
	return profile, nil
}

// Registry indexes tenant configurations by tenant id.
type Registry struct {
	configs map[string]Config
}

// NewRegistry builds a registry from explicit configs.
func NewRegistry(configs []Config) (*Registry, error) {
	byID := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		if err := validate(cfg); err != nil {
			return nil, err
		}
		byID[cfg.TenantID] = cfg
	}
	if len(byID) == 0 {
		return nil, errors.New("tenant configuration is required")
	}
	return &Registry{configs: byID}, nil
}

// LoadFile reads tenant configs from a JSON file holding either a single
// config object or an array of them.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant config: %w", err)
	}
	var configs []Config
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var single Config
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parse tenant config %s: %w", path, err)
		}
		configs = []Config{single}
	} else {
		if err := json.Unmarshal(data, &configs); err != nil {
			return nil, fmt.Errorf("parse tenant config %s: %w", path, err)
		}
	}
	return NewRegistry(configs)
}

// FallbackDefaults synthesizes a single-tenant registry when no config file
// is provided. Each allowed profile gets its own vector collection named
// "<tenant>_<profile>" and shares the default source paths.
type FallbackDefaults struct {
	TenantID        string
	AllowedProfiles []string
	SourcePaths     []string
}

// NewFallbackRegistry builds a registry from deployment defaults.
func NewFallbackRegistry(defaults FallbackDefaults) (*Registry, error) {
	if strings.TrimSpace(defaults.TenantID) == "" {
		return nil, errors.New("fallback tenant id is required")
	}
	if len(defaults.AllowedProfiles) == 0 {
		return nil, errors.New("fallback profiles are required")
	}
	profiles := make(map[string]ProfileConfig, len(defaults.AllowedProfiles))
	for _, key := range defaults.AllowedProfiles {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		profiles[key] = ProfileConfig{
			Key:              key,
			VectorCollection: fmt.Sprintf("%s_%s", defaults.TenantID, key),
			SourcePaths:      defaults.SourcePaths,
		}
	}
	cfg := Config{
		TenantID:       defaults.TenantID,
		DefaultProfile: defaults.AllowedProfiles[0],
		Profiles:       profiles,
	}
	return NewRegistry([]Config{cfg})
}

// TenantIDs lists configured tenants.
func (r *Registry) TenantIDs() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}

// Tenant resolves a tenant id.
func (r *Registry) Tenant(tenantID string) (Config, error) {
	cfg, ok := r.configs[tenantID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrTenantNotFound, tenantID)
	}
	return cfg, nil
}

// Profile resolves a tenant/profile pair in one step.
func (r *Registry) Profile(tenantID, profileKey string) (ProfileConfig, error) {
	cfg, err := r.Tenant(tenantID)
	if err != nil {
		return ProfileConfig{}, err
	}
	return cfg.Profile(profileKey)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.TenantID) == "" {
		return errors.New("tenant config: tenant_id is required")
	}
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("tenant config %q: at least one profile is required", cfg.TenantID)
	}
	if cfg.DefaultProfile == "" {
		return fmt.Errorf("tenant config %q: default_profile is required", cfg.TenantID)
	}
	if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok {
		return fmt.Errorf("tenant config %q: default_profile %q is not among profiles", cfg.TenantID, cfg.DefaultProfile)
	}
	for key, profile := range cfg.Profiles {
		if profile.Key == "" {
			return fmt.Errorf("tenant config %q: profile %q: key is required", cfg.TenantID, key)
		}
		if profile.VectorCollection == "" {
			return fmt.Errorf("tenant config %q: profile %q: vector_collection is required", cfg.TenantID, key)
		}
	}
	return nil
}

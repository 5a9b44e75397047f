package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bosworks/bos/core/pkg/security"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// GovernanceProfile is a deployment-specific governance tuning: rate
// limiter tiers per actor kind, anomaly thresholds, and the flags every
// new tenant starts with.
type GovernanceProfile struct {
	Name         string                   `yaml:"name" json:"name"`
	Code         string                   `yaml:"code" json:"code"`
	LimiterTiers map[string]security.Tier `yaml:"limiter_tiers" json:"limiter_tiers"`
	Anomaly      AnomalyConfig            `yaml:"anomaly" json:"anomaly"`
	FlagDefaults []FlagDefault            `yaml:"flag_defaults" json:"flag_defaults"`
}

// AnomalyConfig mirrors security.AnomalyThresholds with windows in whole
// seconds, which is what YAML carries.
type AnomalyConfig struct {
	VelocityCount       int `yaml:"velocity_count" json:"velocity_count"`
	BranchCount         int `yaml:"branch_count" json:"branch_count"`
	BranchWindowSeconds int `yaml:"branch_window_seconds" json:"branch_window_seconds"`
	RejectionCount      int `yaml:"rejection_count" json:"rejection_count"`
	WindowSeconds       int `yaml:"window_seconds" json:"window_seconds"`
}

// FlagDefault seeds one feature flag for newly provisioned tenants.
type FlagDefault struct {
	FlagKey string `yaml:"flag_key" json:"flag_key"`
	Status  string `yaml:"status" json:"status"`
}

// Tiers converts the profile's string-keyed table to actor kinds,
// skipping unknown kinds. Empty table means the stock limits apply.
func (p *GovernanceProfile) Tiers() map[tenancy.ActorKind]security.Tier {
	if len(p.LimiterTiers) == 0 {
		return security.DefaultTiers()
	}
	out := make(map[tenancy.ActorKind]security.Tier, len(p.LimiterTiers))
	for name, tier := range p.LimiterTiers {
		kind := tenancy.ActorKind(strings.ToUpper(name))
		if kind.Valid() {
			out[kind] = tier
		}
	}
	return out
}

// Thresholds returns the anomaly thresholds, falling back to the stock
// set when the profile leaves them zero.
func (p *GovernanceProfile) Thresholds() security.AnomalyThresholds {
	if p.Anomaly.WindowSeconds == 0 {
		return security.DefaultAnomalyThresholds()
	}
	return security.AnomalyThresholds{
		VelocityCount:  p.Anomaly.VelocityCount,
		BranchCount:    p.Anomaly.BranchCount,
		BranchWindow:   time.Duration(p.Anomaly.BranchWindowSeconds) * time.Second,
		RejectionCount: p.Anomaly.RejectionCount,
		Window:         time.Duration(p.Anomaly.WindowSeconds) * time.Second,
	}
}

// LoadProfile loads profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

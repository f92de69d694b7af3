package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policies.yaml
var defaultPolicies []byte

// PolicyPreset is the default voting policy for one subject kind.
type PolicyPreset struct {
	Kind              string `yaml:"kind"`
	RequiredApprovals int    `yaml:"required_approvals"`
}

type policyFile struct {
	Policies map[string]PolicyPreset `yaml:"policies"`
}

// LoadPolicyPresets returns the embedded presets, overridden per kind by the
// file at path when path is set.
func LoadPolicyPresets(path string) (map[string]PolicyPreset, error) {
	presets, err := parsePolicyPresets(defaultPolicies)
	if err != nil {
		return nil, fmt.Errorf("parse embedded policy presets: %w", err)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return presets, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy presets %s: %w", path, err)
	}
	overrides, err := parsePolicyPresets(raw)
	if err != nil {
		return nil, fmt.Errorf("parse policy presets %s: %w", path, err)
	}
	for kind, preset := range overrides {
		presets[kind] = preset
	}
	return presets, nil
}

func parsePolicyPresets(raw []byte) (map[string]PolicyPreset, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	presets := make(map[string]PolicyPreset, len(file.Policies))
	for kind, preset := range file.Policies {
		kind = strings.ToLower(strings.TrimSpace(kind))
		preset.Kind = strings.ToLower(strings.TrimSpace(preset.Kind))
		switch preset.Kind {
		case "majority", "unanimous", "owner_approval":
		case "threshold":
			if preset.RequiredApprovals <= 0 {
				return nil, fmt.Errorf("policy %q: threshold requires required_approvals > 0", kind)
			}
		default:
			return nil, fmt.Errorf("policy %q: unknown kind %q", kind, preset.Kind)
		}
		presets[kind] = preset
	}
	return presets, nil
}

// Package config is the evolution catalog: per-agent-type learning
// thresholds and ranking weights, loaded from YAML the way the teacher
// loads its aider.Config, with environment overrides for process-level
// settings.
package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentevolve/evocore/internal/learning"
)

// SkillWeights weights getSkillRecommendations's composite ranking.
type SkillWeights struct {
	Success    float64 `yaml:"success"`
	Confidence float64 `yaml:"confidence"`
	Usage      float64 `yaml:"usage"`
}

// DefaultSkillWeights matches spec.md §4.1's defaults.
func DefaultSkillWeights() SkillWeights {
	return SkillWeights{Success: 0.5, Confidence: 0.3, Usage: 0.2}
}

// AgentTypeConfig is one agent type's catalog entry.
type AgentTypeConfig struct {
	MinObservations      int            `yaml:"min_observations"`
	MinConfidence        float64        `yaml:"min_confidence"`
	SuccessRateThreshold float64        `yaml:"success_rate_threshold"`
	FailureRateThreshold float64        `yaml:"failure_rate_threshold"`
	MaxPatternsPerAgent  int            `yaml:"max_patterns_per_agent"`
	CategoryCaps         map[string]int `yaml:"category_caps"`
	SampleRate           float64        `yaml:"sample_rate"`
	SkillWeights         SkillWeights   `yaml:"skill_weights"`
}

// Catalog is the root evolution configuration document.
type Catalog struct {
	AgentTypes map[string]AgentTypeConfig `yaml:"agent_types"`
}

// DefaultCatalog returns an empty catalog: every agent type falls back to
// package defaults.
func DefaultCatalog() *Catalog {
	return &Catalog{AgentTypes: map[string]AgentTypeConfig{}}
}

// Validate checks every entry's thresholds are in sane ranges.
func (c *Catalog) Validate() error {
	for agentType, cfg := range c.AgentTypes {
		if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
			return fmt.Errorf("agent type %q: min_confidence must be in [0,1], got %v", agentType, cfg.MinConfidence)
		}
		if cfg.SuccessRateThreshold < 0 || cfg.SuccessRateThreshold > 1 {
			return fmt.Errorf("agent type %q: success_rate_threshold must be in [0,1], got %v", agentType, cfg.SuccessRateThreshold)
		}
		if cfg.FailureRateThreshold < 0 || cfg.FailureRateThreshold > 1 {
			return fmt.Errorf("agent type %q: failure_rate_threshold must be in [0,1], got %v", agentType, cfg.FailureRateThreshold)
		}
		if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
			return fmt.Errorf("agent type %q: sample_rate must be in [0,1], got %v", agentType, cfg.SampleRate)
		}
	}
	return nil
}

// Load reads and parses a catalog YAML file, falling back to DefaultCatalog
// with a warning on any read or parse failure — the catalog governs tuning
// parameters, not safety-critical state, the same fallback posture the
// teacher's main.go takes with aider.DefaultConfig().
func Load(path string) *Catalog {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[CONFIG] failed to read catalog %q, using defaults: %v", path, err)
		return DefaultCatalog()
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		log.Printf("[CONFIG] failed to parse catalog %q, using defaults: %v", path, err)
		return DefaultCatalog()
	}
	if err := cat.Validate(); err != nil {
		log.Printf("[CONFIG] invalid catalog %q, using defaults: %v", path, err)
		return DefaultCatalog()
	}
	return &cat
}

// ConfigFor resolves the effective learning.AgentConfig for agentType,
// falling back to learning.DefaultAgentConfig() for agent types absent
// from the catalog.
func (c *Catalog) ConfigFor(agentType string) learning.AgentConfig {
	entry, ok := c.AgentTypes[agentType]
	if !ok {
		return learning.DefaultAgentConfig()
	}

	def := learning.DefaultAgentConfig()
	cfg := def
	if entry.MinObservations > 0 {
		cfg.MinObservations = entry.MinObservations
	}
	if entry.MinConfidence > 0 {
		cfg.MinConfidence = entry.MinConfidence
	}
	if entry.SuccessRateThreshold > 0 {
		cfg.SuccessRateThreshold = entry.SuccessRateThreshold
	}
	if entry.FailureRateThreshold > 0 {
		cfg.FailureRateThreshold = entry.FailureRateThreshold
	}
	if entry.MaxPatternsPerAgent > 0 {
		cfg.MaxPatternsPerAgent = entry.MaxPatternsPerAgent
	}
	return cfg
}

// SkillWeightsFor resolves the ranking weights for agentType, falling back
// to DefaultSkillWeights.
func (c *Catalog) SkillWeightsFor(agentType string) SkillWeights {
	entry, ok := c.AgentTypes[agentType]
	if !ok || (entry.SkillWeights == SkillWeights{}) {
		return DefaultSkillWeights()
	}
	return entry.SkillWeights
}

// CategoryCapFor returns the configured cap for (agentType, category),
// or 0 (uncapped) when unset.
func (c *Catalog) CategoryCapFor(agentType, category string) int {
	entry, ok := c.AgentTypes[agentType]
	if !ok {
		return 0
	}
	return entry.CategoryCaps[category]
}

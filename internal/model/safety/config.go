package safety

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks malformed or missing classifier configuration.
// Configuration problems are fatal at construction time, never per message.
var ErrInvalidConfig = errors.New("invalid safety configuration")

// Category names the pattern tables must provide. The detector logic never
// hardcodes keyword lists; it only knows these table shapes.
const (
	CategorySelfHarm          = "self_harm"
	CategoryViolence          = "violence"
	CategoryAbuse             = "abuse"
	CategoryDistress          = "emotional_distress"
	CategoryRelationshipAbuse = "relationship_abuse"
	CategoryManipulation      = "manipulation"
	CategoryEuphemisms        = "euphemisms"
	CategorySlang             = "slang"
	CategoryCodedLanguage     = "coded_language"
	CategoryRelationshipEuph  = "relationship_euphemisms"
	CategoryThreatsDisguised  = "threats_disguised"
)

// PatternConfig maps categories to lowercase substring patterns for the
// lexical detector. Loaded once at construction and never mutated.
type PatternConfig struct {
	// High severity categories: any match blocks.
	High map[string][]string `yaml:"high"`
	// Medium severity categories: matches warn unless a high already fired.
	Medium map[string][]string `yaml:"medium"`
	// Red-team tables cover euphemisms, slang and disguised phrasing.
	RedTeam struct {
		High   map[string][]string `yaml:"high"`
		Medium map[string][]string `yaml:"medium"`
	} `yaml:"red_team"`
	// Allowlist phrases that read alarming but are ordinary speech. May
	// only downgrade a medium verdict, never a high one.
	Allowlist map[string][]string `yaml:"allowlist"`
}

// ParsePatternConfig decodes and validates a YAML pattern table.
func ParsePatternConfig(data []byte) (*PatternConfig, error) {
	var cfg PatternConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPatternFile reads a pattern table from disk.
func LoadPatternFile(path string) (*PatternConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return ParsePatternConfig(data)
}

func (c *PatternConfig) validate() error {
	if len(c.High) == 0 {
		return fmt.Errorf("%w: no high-severity pattern categories", ErrInvalidConfig)
	}
	for _, required := range []string{CategorySelfHarm, CategoryViolence, CategoryAbuse} {
		if len(c.High[required]) == 0 {
			return fmt.Errorf("%w: high category %q missing or empty", ErrInvalidConfig, required)
		}
	}
	tables := []map[string][]string{c.High, c.Medium, c.RedTeam.High, c.RedTeam.Medium, c.Allowlist}
	for _, table := range tables {
		for category, patterns := range table {
			for _, p := range patterns {
				if strings.TrimSpace(p) == "" {
					return fmt.Errorf("%w: category %q has an empty pattern", ErrInvalidConfig, category)
				}
			}
		}
	}
	return nil
}

// ExampleConfig is the seed training set for the similarity classifier.
type ExampleConfig struct {
	Examples []TrainingExample `yaml:"examples"`
}

// ParseExampleConfig decodes and validates a YAML example set.
func ParseExampleConfig(data []byte) (*ExampleConfig, error) {
	var cfg ExampleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(cfg.Examples) == 0 {
		return nil, fmt.Errorf("%w: example set is empty", ErrInvalidConfig)
	}
	for i, ex := range cfg.Examples {
		if strings.TrimSpace(ex.Text) == "" {
			return nil, fmt.Errorf("%w: example %d has empty text", ErrInvalidConfig, i)
		}
		switch ex.RiskLevel {
		case RiskLow, RiskMedium, RiskHigh:
		default:
			return nil, fmt.Errorf("%w: example %d has unknown risk level %q", ErrInvalidConfig, i, ex.RiskLevel)
		}
	}
	return &cfg, nil
}

// LoadExampleFile reads a training example set from disk.
func LoadExampleFile(path string) (*ExampleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return ParseExampleConfig(data)
}

package safety

import _ "embed"

//go:embed defaults/patterns.yaml
var defaultPatternsYAML []byte

//go:embed defaults/examples.yaml
var defaultExamplesYAML []byte

// DefaultPatterns returns the built-in pattern tables. Panics only if the
// embedded defaults are themselves invalid, which is a build defect.
func DefaultPatterns() *PatternConfig {
	cfg, err := ParsePatternConfig(defaultPatternsYAML)
	if err != nil {
		panic(err)
	}
	return cfg
}

// DefaultExamples returns the built-in seed training set.
func DefaultExamples() *ExampleConfig {
	cfg, err := ParseExampleConfig(defaultExamplesYAML)
	if err != nil {
		panic(err)
	}
	return cfg
}

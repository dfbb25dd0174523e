package safety

// RiskLevel grades how concerning a message is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Action is what the engine does with a message. The ordering
// allow < warn < block is total; merging verdicts always takes the max.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

var actionSeverity = map[Action]int{
	ActionAllow: 0,
	ActionWarn:  1,
	ActionBlock: 2,
}

var riskSeverity = map[RiskLevel]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// Severity returns the action's position on the allow<warn<block lattice.
func (a Action) Severity() int { return actionSeverity[a] }

// Severity returns the level's position on the low<medium<high ordering.
func (r RiskLevel) Severity() int { return riskSeverity[r] }

// MaxAction reduces two actions to the more severe one.
func MaxAction(a, b Action) Action {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// BoundaryTemplate is the user-facing content shown when conversation is
// warned or halted. Resources are crisis contacts, attached only for
// self-harm concerns.
type BoundaryTemplate struct {
	Message   string   `json:"message"`
	Resources []string `json:"resources,omitempty"`
}

// Classification is the verdict for one message. Ephemeral: produced per
// call and never stored by the engine, though callers may log it.
type Classification struct {
	RiskLevel  RiskLevel         `json:"riskLevel"`
	Confidence float64           `json:"confidence"`
	Categories []string          `json:"categories,omitempty"`
	Action     Action            `json:"action"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Boundary   *BoundaryTemplate `json:"boundary,omitempty"`
}

// HasCategory reports whether the verdict carries the given concern.
func (c Classification) HasCategory(name string) bool {
	for _, cat := range c.Categories {
		if cat == name {
			return true
		}
	}
	return false
}

// TrainingExample is one labeled reference message for the similarity
// classifier. The example set is append-only.
type TrainingExample struct {
	Text       string    `json:"text" yaml:"text"`
	RiskLevel  RiskLevel `json:"riskLevel" yaml:"risk_level"`
	Categories []string  `json:"categories" yaml:"categories"`
	Reasoning  string    `json:"reasoning" yaml:"reasoning"`
}

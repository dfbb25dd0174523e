package safety

// Crisis contacts attached to self-harm boundaries. Kept here rather than
// in configuration so a miswired pattern file can never strip them.
var crisisResources = []string{
	"988 Suicide & Crisis Lifeline: call or text 988",
	"Crisis Text Line: text HOME to 741741",
	"International Association for Suicide Prevention: https://www.iasp.info/resources/Crisis_Centres/",
}

// TemplateFor picks the supportive boundary content for a verdict. Category
// precedence: self_harm > violence/threats > manipulation > generic. Only
// self-harm attaches crisis resources. Returns nil for low risk.
func TemplateFor(level RiskLevel, categories []string) *BoundaryTemplate {
	if level == RiskLow {
		return nil
	}

	has := func(names ...string) bool {
		for _, n := range names {
			for _, c := range categories {
				if c == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(CategorySelfHarm, CategoryEuphemisms, CategorySlang, CategoryCodedLanguage):
		return &BoundaryTemplate{
			Message: "It sounds like you might be going through something really difficult right now. " +
				"This conversation is paused so you can reach out to people who are trained to help.",
			Resources: append([]string(nil), crisisResources...),
		}
	case has(CategoryViolence, CategoryThreatsDisguised, CategoryAbuse, CategoryRelationshipEuph):
		return &BoundaryTemplate{
			Message: "This conversation has moved into territory that isn't safe to continue here. " +
				"Please take a break, and consider talking to a counselor or someone you trust.",
		}
	case has(CategoryManipulation, CategoryRelationshipAbuse):
		return &BoundaryTemplate{
			Message: "Some of what was said can feel pressuring or unfair. " +
				"It may help to slow down and restate what you each need without conditions.",
		}
	default:
		return &BoundaryTemplate{
			Message: "This seems like a heavy moment. Take a breath before continuing, " +
				"and remember support is available if things feel like too much.",
		}
	}
}

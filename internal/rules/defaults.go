package rules

import "github.com/hammock-linux/hammockd/internal/config"

// DefaultRuleSet returns a minimal working rule tree: foreground for
// whatever is currently activated, background for everything else, with
// no dwell time on either. Callers use this when no match_rules are
// configured at all, so hammockd is still useful out of the box rather
// than freezing every application immediately.
func DefaultRuleSet() []config.MatchRule {
	return []config.MatchRule{
		{
			Name: config.RuleForeground,
			OnlyFrom: &config.Conditional{
				Tag: tagPtr("activated"),
			},
		},
		{
			Name: config.RuleBackground,
		},
	}
}

func tagPtr(t config.Tag) *config.Tag {
	return &t
}

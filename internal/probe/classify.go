// internal/probe/classify.go
package probe

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"mdt-discovery/internal/config"
)

// decimalPattern matches a signed decimal number with a fractional part.
// A live voltage readout is a strong behavioral signature even when the
// reply carries no textual identifier.
var decimalPattern = regexp.MustCompile(`-?\d+\.\d+`)

// Match describes why a reply was accepted as positive identification.
type Match struct {
	Rule string
	// Voltage is set when the telemetry rule produced the match.
	Voltage *decimal.Decimal
}

// Rule is a single signature predicate. Rules are evaluated in order and
// the first hit wins, so the most specific rules must come first.
type Rule struct {
	Name  string
	Apply func(text string) (Match, bool)
}

// Classifier decides whether a normalized reply identifies a device. It is
// stateless; each reply is classified on its own.
type Classifier struct {
	rules []Rule
}

// NewClassifier compiles a classifier from signature configuration. Rule
// order: signature tokens (cheapest, most specific), model-number pattern
// (fallback for truncated replies), decimal telemetry (broadest, last).
func NewClassifier(cfg config.SignatureConfig) (*Classifier, error) {
	var rules []Rule

	for _, token := range cfg.Tokens {
		token := strings.ToUpper(token)
		if token == "" {
			continue
		}
		rules = append(rules, Rule{
			Name: "token:" + token,
			Apply: func(text string) (Match, bool) {
				if strings.Contains(strings.ToUpper(text), token) {
					return Match{Rule: "token:" + token}, true
				}
				return Match{}, false
			},
		})
	}

	if cfg.ModelPattern != "" {
		modelRe, err := regexp.Compile(cfg.ModelPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", cfg.ModelPattern, err)
		}
		rules = append(rules, Rule{
			Name: "model",
			Apply: func(text string) (Match, bool) {
				if modelRe.MatchString(strings.ToUpper(text)) {
					return Match{Rule: "model"}, true
				}
				return Match{}, false
			},
		})
	}

	rules = append(rules, Rule{
		Name: "telemetry",
		Apply: func(text string) (Match, bool) {
			m := decimalPattern.FindString(text)
			if m == "" {
				return Match{}, false
			}
			match := Match{Rule: "telemetry"}
			if v, err := decimal.NewFromString(m); err == nil {
				match.Voltage = &v
			}
			return match, true
		},
	})

	return &Classifier{rules: rules}, nil
}

// Classify runs the rule list against a normalized reply. Empty text never
// matches.
func (c *Classifier) Classify(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}
	for _, rule := range c.rules {
		if m, ok := rule.Apply(text); ok {
			return m, true
		}
	}
	return Match{}, false
}

// Rules returns the names of the compiled rules, in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

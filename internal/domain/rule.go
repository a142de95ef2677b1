package domain

import (
	"strings"
	"time"
)

// RuleConfig defines a custom fraud detection rule. Custom rules run
// alongside the built-in rule set; a rule whose expression evaluates
// truthy contributes Flag to the transaction's rule flags.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression to evaluate. Must return bool, int or double;
	// any non-zero result counts as a match.
	Expression string `json:"expression"`

	// Flag is the rule-flag name emitted on match. Defaults to the
	// uppercased rule ID when empty.
	Flag string `json:"flag"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// FlagName returns the rule-flag name emitted on match.
func (r *RuleConfig) FlagName() string {
	if r.Flag != "" {
		return r.Flag
	}
	return strings.ToUpper(strings.ReplaceAll(r.ID, "-", "_"))
}

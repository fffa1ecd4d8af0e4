package policy

import "time"

// Policy is a Rego admission rule. Its package must define a deny set whose
// members are strings or objects with a message field.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file a custom policy was loaded from. Empty for
	// built-in policies.
	Source string `json:"source,omitempty"`
}

// Violation is one denial produced by a policy.
type Violation struct {
	Policy  string `json:"policy"`
	Message string `json:"message"`
}

// Decision is the outcome of evaluating every enabled policy.
type Decision struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Reasons returns the violation messages.
func (d *Decision) Reasons() []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Bounds is the bed rectangle ponds must lie within.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

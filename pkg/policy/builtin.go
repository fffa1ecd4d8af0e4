package policy

// Names of the built-in policies.
const (
	TemplateProtection = "template-protection"
	BedBounds          = "bed-bounds"
)

// BuiltinPolicies returns the built-in admission policies, all enabled.
func BuiltinPolicies() []Policy {
	return []Policy{
		templateProtectionPolicy(),
		bedBoundsPolicy(),
	}
}

// templateProtectionPolicy keeps the template point from being edited or
// removed through the pond surface.
func templateProtectionPolicy() Policy {
	return Policy{
		Name:        TemplateProtection,
		Description: "Denies update and delete of the template point",
		Enabled:     true,
		Rego: `package pondsync.admission.template

import rego.v1

protected_operations := {"update", "delete"}

deny contains violation if {
	input.operation in protected_operations
	input.name == input.template_name
	violation := {
		"message": sprintf("%s of template point %q is not allowed", [input.operation, input.name]),
	}
}
`,
	}
}

// bedBoundsPolicy keeps pond coordinates inside the configured bed. Bounds
// are read from data.pondsync.bed; the policy is inert while they are unset.
func bedBoundsPolicy() Policy {
	return Policy{
		Name:        BedBounds,
		Description: "Denies create and update with coordinates outside the bed",
		Enabled:     true,
		Rego: `package pondsync.admission.bed

import rego.v1

placing_operations := {"create", "update"}

bed := data.pondsync.bed

deny contains violation if {
	input.operation in placing_operations
	outside(input.x, bed.min_x, bed.max_x)
	violation := {
		"message": sprintf("x=%v is outside the bed [%v, %v]", [input.x, bed.min_x, bed.max_x]),
	}
}

deny contains violation if {
	input.operation in placing_operations
	outside(input.y, bed.min_y, bed.max_y)
	violation := {
		"message": sprintf("y=%v is outside the bed [%v, %v]", [input.y, bed.min_y, bed.max_y]),
	}
}

outside(v, lo, _) if v < lo

outside(v, _, hi) if v > hi
`,
	}
}

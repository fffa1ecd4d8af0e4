// Package policy provides Open Policy Agent admission checks for pond
// operations.
//
// Engine implements ponds.Admission. Before a create, update or delete the
// pond manager hands the engine an input document:
//
//	{
//	  "operation": "update",
//	  "point_id": 100,
//	  "name": "Pond X",
//	  "x": 120,
//	  "y": 340,
//	  "template_name": "Pond X"
//	}
//
// Every enabled policy is evaluated by querying the deny set of its package.
// Any member denies the operation; strings and objects with a message field
// become the denial reasons.
//
// # Built-in policies
//
//   - template-protection: the template point cannot be updated or deleted.
//   - bed-bounds: created or moved ponds must lie inside the bed rectangle.
//     Bounds are stored under data.pondsync.bed by SetBounds; without bounds
//     the policy denies nothing.
//
// Custom policies are loaded with LoadPolicies from .rego files. The file
// name becomes the policy name and the leading comment its description.
//
//	package pondsync.admission.naming
//
//	import rego.v1
//
//	deny contains msg if {
//		input.operation == "create"
//		endswith(input.name, " 13")
//		msg := "pond 13 is reserved"
//	}
package policy

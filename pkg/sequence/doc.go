// Package sequence models FarmBot sequence bodies and rewrites the point
// references embedded in them.
//
// A body is an ordered list of Step nodes. Compound steps carry child steps in
// Body, and point references live inside Args as nested
// {"kind":"point","args":{"pointer_id":N}} nodes. Rewrite is a single generic
// walk over that tree, so new step kinds need no changes here unless they
// introduce a new kind of reference.
package sequence

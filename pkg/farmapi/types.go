package farmapi

import (
	"encoding/json"
	"strconv"

	"github.com/farmops/pondsync/pkg/sequence"
)

// Point meta keys and defaults understood by the pond engine.
const (
	MetaIncludeInAggregate = "include_in_measure_all"
	MetaColor              = "color"

	PointerTypeGeneric = "GenericPointer"
)

// Point is a named map location.
type Point struct {
	ID          int64             `json:"id,omitempty"`
	Name        string            `json:"name"`
	PointerType string            `json:"pointer_type,omitempty"`
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	Z           float64           `json:"z"`
	Radius      float64           `json:"radius,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// IncludeInAggregate reports the point's inclusion flag. A missing or
// unparsable value reads as false.
func (p Point) IncludeInAggregate() bool {
	v, err := strconv.ParseBool(p.Meta[MetaIncludeInAggregate])
	return err == nil && v
}

// PointPatch is the body of a point update.
type PointPatch struct {
	Name string            `json:"name,omitempty"`
	X    float64           `json:"x"`
	Y    float64           `json:"y"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Sequence is a named, ordered list of steps.
type Sequence struct {
	ID       int64           `json:"id,omitempty"`
	Name     string          `json:"name"`
	Color    string          `json:"color,omitempty"`
	FolderID *int64          `json:"folder_id"`
	Args     json.RawMessage `json:"args,omitempty"`
	Body     []sequence.Step `json:"body"`
}

// SequencePatch replaces a sequence body. The remote API requires the name
// on every sequence update.
type SequencePatch struct {
	Name string          `json:"name"`
	Body []sequence.Step `json:"body"`
}

// tokenRequest is the body posted to /api/tokens.
type tokenRequest struct {
	User struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"user"`
}

// tokenResponse is the subset of the /api/tokens reply the client needs.
type tokenResponse struct {
	Token struct {
		Encoded   string `json:"encoded"`
		Unencoded struct {
			Bot  string `json:"bot"`
			MQTT string `json:"mqtt"`
		} `json:"unencoded"`
	} `json:"token"`
}

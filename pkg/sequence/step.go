package sequence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Step is one node of a sequence body.
//
// The remote API encodes every node as {"kind", "args", "body"} with extra
// bookkeeping keys (comment, uuid, ...) that must survive a round trip.
// Args keeps its wire form: nested nodes are map[string]any and numbers are
// json.Number so identifiers are never widened to float64.
type Step struct {
	Kind  string
	Args  map[string]any
	Body  []Step
	Extra map[string]json.RawMessage
}

// Kinds the engine inspects. Every other kind is carried through untouched.
const (
	KindExecute = "execute"
	KindPoint   = "point"
)

// UnmarshalJSON decodes a node and keeps unknown top-level keys in Extra.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}

	*s = Step{}
	if v, ok := raw["kind"]; ok {
		if err := json.Unmarshal(v, &s.Kind); err != nil {
			return fmt.Errorf("decode step kind: %w", err)
		}
		delete(raw, "kind")
	}
	if v, ok := raw["args"]; ok {
		if !isNull(v) {
			dec := json.NewDecoder(bytes.NewReader(v))
			dec.UseNumber()
			if err := dec.Decode(&s.Args); err != nil {
				return fmt.Errorf("decode %s args: %w", s.Kind, err)
			}
		}
		delete(raw, "args")
	}
	if v, ok := raw["body"]; ok {
		if !isNull(v) {
			if err := json.Unmarshal(v, &s.Body); err != nil {
				return fmt.Errorf("decode %s body: %w", s.Kind, err)
			}
		}
		delete(raw, "body")
	}
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the node in wire form. An empty Args is sent as {}
// because the remote API rejects nodes without an args object.
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["kind"] = s.Kind
	if s.Args == nil {
		out["args"] = map[string]any{}
	} else {
		out["args"] = s.Args
	}
	if s.Body != nil {
		out["body"] = s.Body
	}
	return json.Marshal(out)
}

// Clone returns a structural deep copy of the step.
func (s Step) Clone() Step {
	out := Step{Kind: s.Kind}
	if s.Args != nil {
		out.Args = cloneValue(s.Args).(map[string]any)
	}
	if s.Body != nil {
		out.Body = CloneBody(s.Body)
	}
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// CloneBody deep copies a list of steps. A nil body stays nil.
func CloneBody(body []Step) []Step {
	if body == nil {
		return nil
	}
	out := make([]Step, len(body))
	for i := range body {
		out[i] = body[i].Clone()
	}
	return out
}

// Execute builds an execute step calling the given sequence.
func Execute(sequenceID int64) Step {
	return Step{
		Kind: KindExecute,
		Args: map[string]any{"sequence_id": json.Number(fmt.Sprintf("%d", sequenceID))},
	}
}

// ExecuteTarget returns the sequence id an execute step calls.
func (s Step) ExecuteTarget() (int64, bool) {
	if s.Kind != KindExecute || s.Args == nil {
		return 0, false
	}
	return AsID(s.Args["sequence_id"])
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, val := range t {
			l[i] = cloneValue(val)
		}
		return l
	case []Step:
		return CloneBody(t)
	case Step:
		return t.Clone()
	default:
		// Scalars (string, bool, json.Number, numeric types, nil) are immutable.
		return v
	}
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

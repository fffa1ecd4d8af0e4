package sequence

import (
	"encoding/json"
	"math"
	"strconv"
)

// Rewrite deep copies body and retargets every point reference that points
// at oldID so it points at newID instead. The input body is never modified.
// It returns the copy and the number of references rewritten.
//
// The walk does not look at step kinds: any args value shaped like a point
// node is a candidate, no matter which step carries it or how deep it sits in
// nested bodies or nested args.
func Rewrite(body []Step, oldID, newID int64) ([]Step, int) {
	out := CloneBody(body)
	n := 0
	for i := range out {
		n += rewriteStep(&out[i], oldID, newID)
	}
	return out, n
}

// PointRefs returns every point id referenced anywhere in body, in walk order.
func PointRefs(body []Step) []int64 {
	var ids []int64
	var walkSteps func([]Step)
	var walkValue func(any)
	walkValue = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if id, ok := pointRef(t); ok {
				ids = append(ids, id)
			}
			for _, val := range t {
				walkValue(val)
			}
		case []any:
			for _, val := range t {
				walkValue(val)
			}
		}
	}
	walkSteps = func(steps []Step) {
		for i := range steps {
			if steps[i].Args != nil {
				walkValue(steps[i].Args)
			}
			walkSteps(steps[i].Body)
		}
	}
	walkSteps(body)
	return ids
}

func rewriteStep(s *Step, oldID, newID int64) int {
	n := 0
	if s.Args != nil {
		n += rewriteValue(s.Args, oldID, newID)
	}
	for i := range s.Body {
		n += rewriteStep(&s.Body[i], oldID, newID)
	}
	return n
}

func rewriteValue(v any, oldID, newID int64) int {
	n := 0
	switch t := v.(type) {
	case map[string]any:
		if id, ok := pointRef(t); ok && id == oldID {
			args := t["args"].(map[string]any)
			args["pointer_id"] = sameKindID(args["pointer_id"], newID)
			n++
		}
		for _, val := range t {
			n += rewriteValue(val, oldID, newID)
		}
	case []any:
		for _, val := range t {
			n += rewriteValue(val, oldID, newID)
		}
	}
	return n
}

// sameKindID encodes id in the scalar kind of prev, so a string id stays a
// string on the wire.
func sameKindID(prev any, id int64) any {
	switch prev.(type) {
	case string:
		return strconv.FormatInt(id, 10)
	case float64:
		return float64(id)
	case int64:
		return id
	case int:
		return int(id)
	case int32:
		return int32(id)
	default:
		return json.Number(strconv.FormatInt(id, 10))
	}
}

// pointRef reports whether m is a point node and returns the id it targets.
func pointRef(m map[string]any) (int64, bool) {
	if kind, _ := m["kind"].(string); kind != KindPoint {
		return 0, false
	}
	args, ok := m["args"].(map[string]any)
	if !ok {
		return 0, false
	}
	return AsID(args["pointer_id"])
}

// AsID converts a decoded identifier into an int64. It accepts the shapes an
// id can take after JSON decoding or construction in code.
func AsID(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if id, err := t.Int64(); err == nil {
			return id, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return floatID(f)
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return floatID(t)
	case string:
		id, err := strconv.ParseInt(t, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

func floatID(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int64(f), true
}

package pondstest

import (
	"encoding/json"
	"fmt"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/sequence"
)

// Fixture ids and names.
const (
	TemplatePointID = 100
	TemplateName    = "Pond X"
	AggregateName   = "Measure All"
)

// Template sequence bodies, in FarmBot wire form. Every body references the
// template point at a different depth.
const (
	measureBody = `[
		{"kind": "move", "args": {}, "body": [
			{"kind": "axis_overwrite", "args": {"axis": "x",
				"axis_operand": {"kind": "point", "args": {"pointer_type": "GenericPointer", "pointer_id": %[1]d}}}},
			{"kind": "axis_overwrite", "args": {"axis": "y",
				"axis_operand": {"kind": "point", "args": {"pointer_type": "GenericPointer", "pointer_id": %[1]d}}}}
		]},
		{"kind": "read_pin", "args": {"pin_number": 59, "label": "water level", "pin_mode": 1}}
	]`
	moveBody = `[
		{"kind": "move_absolute", "args": {
			"location": {"kind": "point", "args": {"pointer_type": "GenericPointer", "pointer_id": %[1]d}},
			"offset": {"kind": "coordinate", "args": {"x": 0, "y": 0, "z": 0}},
			"speed": 100}}
	]`
	weedBody = `[
		{"kind": "_if", "args": {"lhs": "x", "op": "not", "rhs": 0,
			"_then": {"kind": "nothing", "args": {}},
			"_else": {"kind": "nothing", "args": {}}},
		 "body": [
			{"kind": "move", "args": {}, "body": [
				{"kind": "axis_overwrite", "args": {"axis": "z",
					"axis_operand": {"kind": "point", "args": {"pointer_type": "GenericPointer", "pointer_id": %[1]d}}}}
			]}
		]},
		{"kind": "wait", "args": {"milliseconds": 500}, "comment": "settle"}
	]`
)

// Fixture is a seeded account: the template point, three template
// sequences and an empty aggregate sequence.
type Fixture struct {
	Remote            *FakeRemote
	Template          farmapi.Point
	TemplateSequences []farmapi.Sequence
	Aggregate         farmapi.Sequence
}

// Seed stores the template point, the Measure, Move and Weed template
// sequences, and the aggregate sequence in f.
func Seed(f *FakeRemote) Fixture {
	fx := Fixture{Remote: f}
	fx.Template = f.AddPoint(farmapi.Point{
		ID:          TemplatePointID,
		Name:        TemplateName,
		PointerType: farmapi.PointerTypeGeneric,
		Radius:      50,
		Meta:        map[string]string{farmapi.MetaColor: "gray"},
	})

	folder := int64(7)
	for _, tpl := range []struct{ action, body string }{
		{"Measure", measureBody},
		{"Move", moveBody},
		{"Weed", weedBody},
	} {
		fx.TemplateSequences = append(fx.TemplateSequences, f.AddSequence(farmapi.Sequence{
			Name:     tpl.action + " " + TemplateName,
			Color:    "blue",
			FolderID: &folder,
			Args:     json.RawMessage(`{"locals":{"kind":"scope_declaration","args":{}}}`),
			Body:     MustBody(fmt.Sprintf(tpl.body, TemplatePointID)),
		}))
	}

	fx.Aggregate = f.AddSequence(farmapi.Sequence{
		Name: AggregateName,
		Body: MustBody(`[{"kind": "send_message", "args": {"message": "Measuring ponds", "message_type": "info"}}]`),
	})
	return fx
}

// AddPond stores a pond point without any derived sequences.
func (fx Fixture) AddPond(name string, x, y float64, include bool) farmapi.Point {
	return fx.Remote.AddPoint(farmapi.Point{
		Name:        name,
		PointerType: farmapi.PointerTypeGeneric,
		X:           x,
		Y:           y,
		Radius:      50,
		Meta: map[string]string{
			farmapi.MetaColor:              "green",
			farmapi.MetaIncludeInAggregate: fmt.Sprintf("%t", include),
		},
	})
}

// MustBody decodes a sequence body in wire form. It panics on bad JSON.
func MustBody(src string) []sequence.Step {
	var body []sequence.Step
	if err := json.Unmarshal([]byte(src), &body); err != nil {
		panic(fmt.Sprintf("pondstest: bad body: %v", err))
	}
	return body
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

package ponds

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/ponds/pondstest"
	"github.com/farmops/pondsync/pkg/sequence"
)

func message(text string) sequence.Step {
	return sequence.Step{Kind: "send_message", Args: map[string]any{"message": text, "message_type": "info"}}
}

// describe renders a body as short labels for comparison.
func describe(body []sequence.Step, names map[int64]string) []string {
	var out []string
	for _, s := range body {
		if id, ok := s.ExecuteTarget(); ok {
			if name, known := names[id]; known {
				out = append(out, "exec:"+name)
			} else {
				out = append(out, fmt.Sprintf("exec:#%d", id))
			}
			continue
		}
		out = append(out, fmt.Sprintf("%s:%v", s.Kind, s.Args["message"]))
	}
	return out
}

func testIndex() aggregateIndex {
	return aggregateIndex{
		naming: DefaultNaming(),
		names: map[int64]string{
			1:  "Measure Pond 1",
			2:  "Measure Pond 2",
			3:  "Measure Pond 3",
			10: "Measure Pond 10",
			50: "Water All",
		},
	}
}

func TestRebuildAggregateKeepsHeaderAndFooter(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{
		message("start"),
		sequence.Execute(3),
		message("between"),
		sequence.Execute(50),
		sequence.Execute(1),
		message("end"),
	}

	got := rebuildAggregate(body, ix, 2, true)

	want := []string{
		"send_message:start",
		"exec:Measure Pond 1",
		"exec:Measure Pond 2",
		"exec:Measure Pond 3",
		"send_message:between",
		"exec:Water All",
		"send_message:end",
	}
	if diff := cmp.Diff(want, describe(got, ix.names)); diff != "" {
		t.Errorf("rebuilt body mismatch (-want +got):\n%s", diff)
	}
}

func TestRebuildAggregateSortsNumerically(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{sequence.Execute(10), sequence.Execute(2)}

	got := rebuildAggregate(body, ix, 1, true)

	assert.Equal(t,
		[]string{"exec:Measure Pond 1", "exec:Measure Pond 2", "exec:Measure Pond 10"},
		describe(got, ix.names))
}

func TestRebuildAggregateDanglingCallsSortLast(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{message("start"), sequence.Execute(999), sequence.Execute(3)}

	got := rebuildAggregate(body, ix, 1, true)

	assert.Equal(t,
		[]string{"send_message:start", "exec:Measure Pond 1", "exec:Measure Pond 3", "exec:#999"},
		describe(got, ix.names))
}

func TestRebuildAggregateWithoutInclusionSteps(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{message("start"), message("end")}

	got := rebuildAggregate(body, ix, 2, true)

	assert.Equal(t,
		[]string{"send_message:start", "send_message:end", "exec:Measure Pond 2"},
		describe(got, ix.names))
}

func TestRebuildAggregateRemovesDuplicates(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{sequence.Execute(2), sequence.Execute(1), sequence.Execute(2)}

	assert.Equal(t,
		[]string{"exec:Measure Pond 1", "exec:Measure Pond 2"},
		describe(rebuildAggregate(body, ix, 2, true), ix.names))
	assert.Equal(t,
		[]string{"exec:Measure Pond 1"},
		describe(rebuildAggregate(body, ix, 2, false), ix.names))
}

func TestRebuildAggregateDoesNotAliasInput(t *testing.T) {
	ix := testIndex()
	body := []sequence.Step{message("start"), sequence.Execute(1)}

	got := rebuildAggregate(body, ix, 2, true)
	got[0].Args["message"] = "changed"

	assert.Equal(t, "start", body[0].Args["message"])
}

func newTestReconciler(t *testing.T) (pondstest.Fixture, *AggregateReconciler) {
	t.Helper()
	fx := pondstest.Seed(pondstest.NewFakeRemote())
	r := NewAggregateReconciler(fx.Remote, DefaultNaming(), AggregateConfig{}, zerolog.Nop(), nil)
	return fx, r
}

func TestRemoveInclusionIsNoopWhenAbsent(t *testing.T) {
	fx, r := newTestReconciler(t)
	pond := fx.AddPond("Pond 1", 0, 0, false)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure Pond 1"})

	res, err := r.RemoveInclusion(context.Background(), pond)
	require.NoError(t, err)

	assert.Equal(t, AggregateUnchanged, res.Action)
	assert.Zero(t, fx.Remote.Calls(pondstest.OpPatchSequence))
}

func TestSetInclusionSkipsWithoutAggregate(t *testing.T) {
	fx := pondstest.Seed(pondstest.NewFakeRemote())
	r := NewAggregateReconciler(fx.Remote, DefaultNaming(), AggregateConfig{ID: 31337}, zerolog.Nop(), nil)
	pond := fx.AddPond("Pond 1", 0, 0, false)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure Pond 1"})

	res, err := r.SetInclusion(context.Background(), pond, true)
	require.NoError(t, err)

	assert.Equal(t, AggregateSkipped, res.Action)
	assert.Zero(t, fx.Remote.Calls(pondstest.OpPatchSequence))
}

func TestSetInclusionFindsAggregateByID(t *testing.T) {
	fx := pondstest.Seed(pondstest.NewFakeRemote())
	r := NewAggregateReconciler(fx.Remote, DefaultNaming(), AggregateConfig{ID: fx.Aggregate.ID}, zerolog.Nop(), nil)
	pond := fx.AddPond("Pond 1", 0, 0, false)
	measure := fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure Pond 1"})

	res, err := r.SetInclusion(context.Background(), pond, true)
	require.NoError(t, err)

	assert.Equal(t, AggregatePatched, res.Action)
	assert.Equal(t, []int64{measure.ID}, res.Included)
}

func TestSetInclusionSurfacesPatchFailure(t *testing.T) {
	fx, r := newTestReconciler(t)
	pond := fx.AddPond("Pond 1", 0, 0, false)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure Pond 1"})
	fx.Remote.Fail(pondstest.OpPatchSequence, pondstest.AggregateName, 1, nil)

	_, err := r.SetInclusion(context.Background(), pond, true)
	require.Error(t, err)
	assert.True(t, IsRemote(err))
}

func TestConcurrentSetInclusionLosesNoUpdates(t *testing.T) {
	fx, r := newTestReconciler(t)
	const n = 8
	points := make([]farmapi.Point, n)
	want := make([]int64, n)
	for i := range points {
		name := fmt.Sprintf("Pond %d", i+1)
		points[i] = fx.AddPond(name, 0, 0, false)
		want[i] = fx.Remote.AddSequence(farmapi.Sequence{Name: "Measure " + name}).ID
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(p farmapi.Point) {
			defer wg.Done()
			_, err := r.SetInclusion(context.Background(), p, true)
			assert.NoError(t, err)
		}(points[i])
	}
	wg.Wait()

	assert.Equal(t, want, aggregateTargets(t, fx.Remote))
}

package ponds

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/ponds/pondstest"
	"github.com/farmops/pondsync/pkg/sequence"
)

type memJournal struct {
	mu    sync.Mutex
	ops   []OperationRecord
	sweep []SweepRecord
}

func (j *memJournal) AppendOperation(_ context.Context, rec OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, rec)
	return nil
}

func (j *memJournal) SaveSweepRun(_ context.Context, run SweepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sweep = append(j.sweep, run)
	return nil
}

type admissionFunc func(AdmissionInput) []string

func (f admissionFunc) Admit(_ context.Context, in AdmissionInput) ([]string, error) {
	return f(in), nil
}

func newTestManager(t *testing.T, opts ...Option) (pondstest.Fixture, *Manager) {
	t.Helper()
	fx := pondstest.Seed(pondstest.NewFakeRemote())
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	m := NewManager(fx.Remote, Config{
		Naming:    DefaultNaming(),
		Aggregate: AggregateConfig{Name: pondstest.AggregateName},
	}, opts...)
	return fx, m
}

func createPond(t *testing.T, m *Manager, name string, x, y float64) *CreateResult {
	t.Helper()
	res, err := m.Create(context.Background(), CreateRequest{
		Name: name,
		X:    pondstest.Float(x),
		Y:    pondstest.Float(y),
	})
	require.NoError(t, err)
	return res
}

func includePond(t *testing.T, m *Manager, id int64, include bool) *UpdateResult {
	t.Helper()
	res, err := m.Update(context.Background(), id, UpdateRequest{
		X:                  pondstest.Float(1),
		Y:                  pondstest.Float(1),
		IncludeInAggregate: pondstest.Bool(include),
	})
	require.NoError(t, err)
	return res
}

func countNamed(f *pondstest.FakeRemote, name string) int {
	n := 0
	for _, s := range f.Sequences() {
		if s.Name == name {
			n++
		}
	}
	return n
}

func aggregateTargets(t *testing.T, f *pondstest.FakeRemote) []int64 {
	t.Helper()
	agg, ok := f.SequenceNamed(pondstest.AggregateName)
	require.True(t, ok)
	var ids []int64
	for _, s := range agg.Body {
		if id, ok := s.ExecuteTarget(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func sequenceID(t *testing.T, f *pondstest.FakeRemote, name string) int64 {
	t.Helper()
	s, ok := f.SequenceNamed(name)
	require.True(t, ok, "sequence %q", name)
	return s.ID
}

func TestCreateClonesEveryTemplateSequence(t *testing.T) {
	fx, m := newTestManager(t)

	res := createPond(t, m, "Pond 4", 120, 340)

	assert.Equal(t, 3, res.Created)
	assert.False(t, res.Resumed)
	assert.Equal(t, "Pond 4", res.Point.Name)
	assert.Equal(t, 120.0, res.Point.X)
	assert.Equal(t, 0.0, res.Point.Z)
	assert.Equal(t, float64(DefaultPointRadius), res.Point.Radius)
	assert.Equal(t, farmapi.PointerTypeGeneric, res.Point.PointerType)
	assert.Equal(t, DefaultPointColor, res.Point.Meta[farmapi.MetaColor])

	for _, tpl := range fx.TemplateSequences {
		name := strings.TrimSuffix(tpl.Name, " Pond X") + " Pond 4"
		assert.Equal(t, 1, countNamed(fx.Remote, name), name)

		derived, ok := fx.Remote.SequenceNamed(name)
		require.True(t, ok)
		assert.Equal(t, tpl.Color, derived.Color)
		assert.Equal(t, *tpl.FolderID, *derived.FolderID)
		assert.JSONEq(t, string(tpl.Args), string(derived.Args))

		refs := sequence.PointRefs(derived.Body)
		require.NotEmpty(t, refs)
		for _, ref := range refs {
			assert.Equal(t, res.Point.ID, ref, "%s still references the template", name)
		}
	}

	// Template sequences are untouched.
	for _, tpl := range fx.TemplateSequences {
		current, ok := fx.Remote.SequenceNamed(tpl.Name)
		require.True(t, ok)
		for _, ref := range sequence.PointRefs(current.Body) {
			assert.Equal(t, int64(pondstest.TemplatePointID), ref)
		}
	}
}

func TestCreateWithNoTemplateSequences(t *testing.T) {
	f := pondstest.NewFakeRemote()
	f.AddPoint(farmapi.Point{ID: 100, Name: "Pond X"})
	m := NewManager(f, Config{}, WithLogger(zerolog.Nop()))

	res, err := m.Create(context.Background(), CreateRequest{Name: "Pond 1", X: pondstest.Float(0), Y: pondstest.Float(0)})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, f.Sequences())
}

func TestCreateRejectsCompletePond(t *testing.T) {
	_, m := newTestManager(t)
	createPond(t, m, "Pond 1", 0, 0)

	_, err := m.Create(context.Background(), CreateRequest{Name: "Pond 1", X: pondstest.Float(0), Y: pondstest.Float(0)})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestCreateResumesIncompletePond(t *testing.T) {
	fx, m := newTestManager(t)
	point := fx.AddPond("Pond 2", 5, 5, false)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Move Pond 2"})

	res, err := m.Create(context.Background(), CreateRequest{Name: "Pond 2", X: pondstest.Float(5), Y: pondstest.Float(5)})
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	assert.Equal(t, point.ID, res.Point.ID)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, countNamed(fx.Remote, "Move Pond 2"))
	assert.Equal(t, 1, countNamed(fx.Remote, "Measure Pond 2"))
	assert.Equal(t, 1, countNamed(fx.Remote, "Weed Pond 2"))
	assert.Zero(t, fx.Remote.Calls(pondstest.OpCreatePoint))
}

func TestCreateResumeRejectsOtherCoordinates(t *testing.T) {
	fx, m := newTestManager(t)
	fx.AddPond("Pond 2", 5, 5, false)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Move Pond 2"})

	res, err := m.Create(context.Background(), CreateRequest{Name: "Pond 2", X: pondstest.Float(9), Y: pondstest.Float(5)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "x=5 y=5")

	assert.Zero(t, fx.Remote.Calls(pondstest.OpCreateSequence))
	assert.Zero(t, fx.Remote.Calls(pondstest.OpPatchPoint))
	assert.Zero(t, countNamed(fx.Remote, "Measure Pond 2"))
}

func TestCreateValidation(t *testing.T) {
	_, m := newTestManager(t)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{X: pondstest.Float(1), Y: pondstest.Float(1)}},
		{"missing x", CreateRequest{Name: "Pond 1", Y: pondstest.Float(1)}},
		{"missing y", CreateRequest{Name: "Pond 1", X: pondstest.Float(1)}},
		{"not a pond name", CreateRequest{Name: "Compost", X: pondstest.Float(1), Y: pondstest.Float(1)}},
		{"template name", CreateRequest{Name: "Pond X", X: pondstest.Float(1), Y: pondstest.Float(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestCreateTemplateMissing(t *testing.T) {
	f := pondstest.NewFakeRemote()
	m := NewManager(f, Config{}, WithLogger(zerolog.Nop()))

	_, err := m.Create(context.Background(), CreateRequest{Name: "Pond 1", X: pondstest.Float(0), Y: pondstest.Float(0)})
	require.Error(t, err)
	assert.True(t, IsTemplateMissing(err))
	assert.Empty(t, f.Points())
}

func TestCreatePartialFailureHealedBySweep(t *testing.T) {
	fx, m := newTestManager(t)
	fx.Remote.Fail(pondstest.OpCreateSequence, "Move Pond 2", 1, nil)

	res, err := m.Create(context.Background(), CreateRequest{Name: "Pond 2", X: pondstest.Float(3), Y: pondstest.Float(4)})
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	var apiErr *farmapi.APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Created)

	_, ok := fx.Remote.PointNamed("Pond 2")
	assert.True(t, ok, "point stays created")
	assert.Equal(t, 1, countNamed(fx.Remote, "Measure Pond 2"))
	assert.Zero(t, countNamed(fx.Remote, "Move Pond 2"))
	assert.Zero(t, countNamed(fx.Remote, "Weed Pond 2"))

	s := NewSweeper(fx.Remote, SweepConfig{Logger: zerolog.Nop()})
	sweep, err := s.Sweep(context.Background(), TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 2, sweep.Created)
	assert.ElementsMatch(t, []string{"Move Pond 2", "Weed Pond 2"}, sweep.CreatedNames)
	for _, name := range []string{"Measure Pond 2", "Move Pond 2", "Weed Pond 2"} {
		assert.Equal(t, 1, countNamed(fx.Remote, name), name)
	}
}

func TestUpdatePatchesPointAndAggregate(t *testing.T) {
	fx, m := newTestManager(t)
	pond := createPond(t, m, "Pond 1", 0, 0)

	res := includePond(t, m, pond.Point.ID, true)
	assert.Equal(t, AggregatePatched, res.Aggregate.Action)

	got, ok := fx.Remote.PointNamed("Pond 1")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.X)
	assert.True(t, got.IncludeInAggregate())
	assert.Equal(t, DefaultPointColor, got.Meta[farmapi.MetaColor], "existing meta kept")

	measure := sequenceID(t, fx.Remote, "Measure Pond 1")
	assert.Equal(t, []int64{measure}, aggregateTargets(t, fx.Remote))

	includePond(t, m, pond.Point.ID, false)
	got, _ = fx.Remote.PointNamed("Pond 1")
	assert.False(t, got.IncludeInAggregate())
	assert.Empty(t, aggregateTargets(t, fx.Remote))
}

func TestUpdateTwiceKeepsOneInclusionStep(t *testing.T) {
	fx, m := newTestManager(t)
	pond := createPond(t, m, "Pond 1", 0, 0)

	includePond(t, m, pond.Point.ID, true)
	includePond(t, m, pond.Point.ID, true)

	assert.Len(t, aggregateTargets(t, fx.Remote), 1)
}

func TestUpdateNotFound(t *testing.T) {
	_, m := newTestManager(t)

	_, err := m.Update(context.Background(), 4242, UpdateRequest{
		X: pondstest.Float(0), Y: pondstest.Float(0), IncludeInAggregate: pondstest.Bool(true),
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUpdateWithoutMeasureSequenceStillPatchesPoint(t *testing.T) {
	fx, m := newTestManager(t)
	pond := fx.AddPond("Pond 7", 0, 0, false)

	res := includePond(t, m, pond.ID, true)

	assert.Equal(t, AggregateSkipped, res.Aggregate.Action)
	got, _ := fx.Remote.PointNamed("Pond 7")
	assert.True(t, got.IncludeInAggregate())
	assert.Zero(t, fx.Remote.Calls(pondstest.OpPatchSequence))
}

func TestInclusionOrderIndependentOfCallOrder(t *testing.T) {
	fx, m := newTestManager(t)
	ids := map[string]int64{}
	for _, name := range []string{"Pond 3", "Pond 1", "Pond 2"} {
		ids[name] = createPond(t, m, name, 0, 0).Point.ID
	}

	for _, name := range []string{"Pond 3", "Pond 1", "Pond 2"} {
		includePond(t, m, ids[name], true)
	}

	want := []int64{
		sequenceID(t, fx.Remote, "Measure Pond 1"),
		sequenceID(t, fx.Remote, "Measure Pond 2"),
		sequenceID(t, fx.Remote, "Measure Pond 3"),
	}
	assert.Equal(t, want, aggregateTargets(t, fx.Remote))

	agg, _ := fx.Remote.SequenceNamed(pondstest.AggregateName)
	assert.Equal(t, "send_message", agg.Body[0].Kind, "header stays first")
}

func TestDeleteCascade(t *testing.T) {
	fx, m := newTestManager(t)
	pond5 := createPond(t, m, "Pond 5", 0, 0)
	pond15 := createPond(t, m, "Pond 15", 0, 0)
	includePond(t, m, pond5.Point.ID, true)
	includePond(t, m, pond15.Point.ID, true)
	fx.Remote.AddSequence(farmapi.Sequence{Name: "Water Pond 5"})
	formerMeasure := sequenceID(t, fx.Remote, "Measure Pond 5")

	res, err := m.Delete(context.Background(), pond5.Point.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SequencesDeleted)
	assert.Equal(t, AggregatePatched, res.Aggregate.Action)

	for _, name := range fx.Remote.SequenceNames() {
		assert.False(t, strings.HasSuffix(name, " Pond 5"), "leftover %q", name)
	}
	_, ok := fx.Remote.PointNamed("Pond 5")
	assert.False(t, ok)
	assert.NotContains(t, aggregateTargets(t, fx.Remote), formerMeasure)

	// The neighbour with a longer suffix is untouched.
	assert.Equal(t, []int64{sequenceID(t, fx.Remote, "Measure Pond 15")}, aggregateTargets(t, fx.Remote))
	assert.Equal(t, 1, countNamed(fx.Remote, "Weed Pond 15"))
}

func TestDeleteRemovesInclusionBeforeSequences(t *testing.T) {
	fx, m := newTestManager(t)
	pond := createPond(t, m, "Pond 5", 0, 0)
	includePond(t, m, pond.Point.ID, true)
	fx.Remote.Fail(pondstest.OpDeleteSequence, "", -1, nil)

	_, err := m.Delete(context.Background(), pond.Point.ID)
	require.Error(t, err)

	assert.Empty(t, aggregateTargets(t, fx.Remote), "aggregate detached even though the cascade stopped")
	assert.Equal(t, 1, countNamed(fx.Remote, "Measure Pond 5"))
}

func TestDeleteIsRetrySafe(t *testing.T) {
	fx, m := newTestManager(t)
	pond := createPond(t, m, "Pond 5", 0, 0)
	includePond(t, m, pond.Point.ID, true)
	fx.Remote.Fail(pondstest.OpDeletePoint, "Pond 5", 1, nil)

	_, err := m.Delete(context.Background(), pond.Point.ID)
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	_, ok := fx.Remote.PointNamed("Pond 5")
	require.True(t, ok)

	res, err := m.Delete(context.Background(), pond.Point.ID)
	require.NoError(t, err)
	assert.Zero(t, res.SequencesDeleted)
	_, ok = fx.Remote.PointNamed("Pond 5")
	assert.False(t, ok)
}

func TestDeleteNotFound(t *testing.T) {
	_, m := newTestManager(t)

	_, err := m.Delete(context.Background(), 4242)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAdmissionDenial(t *testing.T) {
	deny := admissionFunc(func(in AdmissionInput) []string {
		if in.Operation == OpCreate && in.X > 1000 {
			return []string{"outside the bed"}
		}
		return nil
	})
	fx, m := newTestManager(t, WithAdmission(deny))

	_, err := m.Create(context.Background(), CreateRequest{Name: "Pond 1", X: pondstest.Float(5000), Y: pondstest.Float(0)})
	require.Error(t, err)
	assert.True(t, IsPolicyDenied(err))
	assert.Contains(t, err.Error(), "outside the bed")
	assert.Zero(t, fx.Remote.Calls(pondstest.OpCreatePoint))

	createPond(t, m, "Pond 1", 10, 0)
}

func TestJournalRecordsOperations(t *testing.T) {
	j := &memJournal{}
	fx, m := newTestManager(t, WithJournal(j))

	pond := createPond(t, m, "Pond 1", 0, 0)
	fx.Remote.Fail(pondstest.OpDeletePoint, "", 1, nil)
	_, err := m.Delete(context.Background(), pond.Point.ID)
	require.Error(t, err)
	_, err = m.Update(context.Background(), 4242, UpdateRequest{
		X: pondstest.Float(0), Y: pondstest.Float(0), IncludeInAggregate: pondstest.Bool(true),
	})
	require.Error(t, err)

	require.Len(t, j.ops, 3)
	assert.Equal(t, OpCreate, j.ops[0].Kind)
	assert.Equal(t, StatusOK, j.ops[0].Status)
	assert.Equal(t, pond.Point.ID, j.ops[0].PointID)
	assert.Equal(t, "created=3 resumed=false", j.ops[0].Detail)

	assert.Equal(t, OpDelete, j.ops[1].Kind)
	assert.Equal(t, StatusPartial, j.ops[1].Status)
	assert.Equal(t, "Pond 1", j.ops[1].PondName)
	assert.NotEmpty(t, j.ops[1].Error)

	assert.Equal(t, OpUpdate, j.ops[2].Kind)
	assert.Equal(t, StatusFailed, j.ops[2].Status)
	for _, rec := range j.ops {
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CompletedAt.Before(rec.StartedAt))
	}
}

func TestListSortsBySuffix(t *testing.T) {
	fx, m := newTestManager(t)
	createPond(t, m, "Pond 10", 0, 0)
	createPond(t, m, "Pond 2", 0, 0)
	fx.AddPond("Pond 1", 3, 4, true)
	fx.Remote.AddPoint(farmapi.Point{Name: "Compost"})

	ponds, err := m.List(context.Background())
	require.NoError(t, err)

	require.Len(t, ponds, 3)
	assert.Equal(t, "Pond 1", ponds[0].Name)
	assert.Equal(t, "Pond 2", ponds[1].Name)
	assert.Equal(t, "Pond 10", ponds[2].Name)
	assert.True(t, ponds[0].IncludeInAggregate)
	assert.Equal(t, []string{"Measure Pond 1", "Move Pond 1", "Weed Pond 1"}, ponds[0].Missing)
	assert.Empty(t, ponds[1].Missing)
}

func TestRemoteErrorKeepsAPIError(t *testing.T) {
	fx, m := newTestManager(t)
	fx.Remote.Fail(pondstest.OpListPoints, "", 1, &farmapi.APIError{StatusCode: 502, Body: "bad gateway"})

	_, err := m.Create(context.Background(), CreateRequest{Name: "Pond 1", X: pondstest.Float(0), Y: pondstest.Float(0)})
	require.Error(t, err)

	assert.True(t, IsRemote(err))
	assert.Equal(t, 502, farmapi.StatusCode(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindRemote}))
}

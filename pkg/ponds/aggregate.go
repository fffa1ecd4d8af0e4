package ponds

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/sequence"
	"github.com/farmops/pondsync/pkg/telemetry"
)

// DefaultAggregateName is the aggregate sequence looked up when no id is configured.
const DefaultAggregateName = "Measure All"

// Aggregate reconciliation outcomes.
const (
	AggregatePatched   = "patched"
	AggregateUnchanged = "unchanged"
	AggregateSkipped   = "skipped"
)

// AggregateConfig locates the aggregate sequence. ID wins over Name.
type AggregateConfig struct {
	ID   int64
	Name string
}

// AggregateResult describes one reconciliation.
type AggregateResult struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`

	// Included lists the Measure sequences the aggregate now runs, in order.
	Included []int64 `json:"included,omitempty"`
}

// AggregateReconciler keeps the aggregate sequence's inclusion steps in line
// with pond include flags. Every reconciliation replaces the whole body with
// one patch; a mutex serializes reconciliations within the process so two of
// them never compute from the same stale read.
type AggregateReconciler struct {
	remote  Remote
	naming  Naming
	cfg     AggregateConfig
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu sync.Mutex
}

// NewAggregateReconciler creates a reconciler.
func NewAggregateReconciler(remote Remote, naming Naming, cfg AggregateConfig, logger zerolog.Logger, metrics *telemetry.Metrics) *AggregateReconciler {
	if cfg.ID == 0 && cfg.Name == "" {
		cfg.Name = DefaultAggregateName
	}
	return &AggregateReconciler{
		remote:  remote,
		naming:  naming,
		cfg:     cfg,
		logger:  logger.With().Str("component", "aggregate").Logger(),
		metrics: metrics,
	}
}

// SetInclusion adds or removes pond's inclusion step. The body is always
// patched, even when it is already correct.
func (r *AggregateReconciler) SetInclusion(ctx context.Context, pond farmapi.Point, include bool) (AggregateResult, error) {
	return r.reconcile(ctx, pond, include, true)
}

// RemoveInclusion drops pond's inclusion step if present. It patches only
// when the body changes, so repeated calls are no-ops.
func (r *AggregateReconciler) RemoveInclusion(ctx context.Context, pond farmapi.Point) (AggregateResult, error) {
	return r.reconcile(ctx, pond, false, false)
}

func (r *AggregateReconciler) reconcile(ctx context.Context, pond farmapi.Point, include, always bool) (AggregateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.logger.With().
		Str("pond", pond.Name).
		Bool("include", include).
		Logger()

	sequences, err := r.remote.ListSequences(ctx)
	if err != nil {
		return AggregateResult{}, remoteErr(err, "list sequences")
	}

	agg, ok := r.find(sequences)
	if !ok {
		logger.Warn().
			Int64("aggregate_id", r.cfg.ID).
			Str("aggregate_name", r.cfg.Name).
			Msg("Aggregate sequence not found, skipping")
		r.metrics.RecordAggregatePatch(AggregateSkipped)
		return AggregateResult{Action: AggregateSkipped, Reason: "aggregate sequence not found"}, nil
	}

	measureName := r.naming.MeasureName(pond.Name)
	var measure *farmapi.Sequence
	for i := range sequences {
		if sequences[i].Name == measureName {
			measure = &sequences[i]
			break
		}
	}
	if measure == nil {
		logger.Warn().
			Str("sequence", measureName).
			Msg("Measure sequence not found, skipping aggregate update")
		r.metrics.RecordAggregatePatch(AggregateSkipped)
		return AggregateResult{Action: AggregateSkipped, Reason: "measure sequence " + measureName + " not found"}, nil
	}

	// The listing may carry a trimmed body; read the aggregate itself.
	current, err := r.remote.GetSequence(ctx, agg.ID)
	if err != nil {
		return AggregateResult{}, remoteErr(err, "get aggregate sequence %d", agg.ID)
	}

	names := make(map[int64]string, len(sequences))
	for _, s := range sequences {
		names[s.ID] = s.Name
	}
	body := rebuildAggregate(current.Body, aggregateIndex{naming: r.naming, names: names}, measure.ID, include)
	result := AggregateResult{Included: inclusionTargets(body, aggregateIndex{naming: r.naming, names: names})}

	if !always && sameBody(body, current.Body) {
		r.metrics.RecordAggregatePatch(AggregateUnchanged)
		result.Action = AggregateUnchanged
		return result, nil
	}

	ic := telemetry.StartOperation(ctx, "aggregate.patch", telemetry.AttrSequenceID.Int64(current.ID))
	_, err = r.remote.PatchSequence(ic.Ctx, current.ID, farmapi.SequencePatch{Name: current.Name, Body: body})
	ic.End(err)
	if err != nil {
		return AggregateResult{}, remoteErr(err, "patch aggregate sequence %d", current.ID)
	}

	logger.Info().
		Int64("aggregate_id", current.ID).
		Int("inclusion_steps", len(result.Included)).
		Msg("Aggregate sequence updated")
	r.metrics.RecordAggregatePatch(AggregatePatched)
	result.Action = AggregatePatched
	return result, nil
}

func (r *AggregateReconciler) find(sequences []farmapi.Sequence) (farmapi.Sequence, bool) {
	for _, s := range sequences {
		if r.cfg.ID != 0 && s.ID == r.cfg.ID {
			return s, true
		}
		if r.cfg.ID == 0 && s.Name == r.cfg.Name {
			return s, true
		}
	}
	return farmapi.Sequence{}, false
}

// aggregateIndex classifies aggregate steps against a sequence listing.
type aggregateIndex struct {
	naming Naming
	names  map[int64]string
}

// isInclusion reports whether s is an inclusion step. Execute steps calling a
// known sequence that is not a pond Measure sequence stay in header or footer;
// dangling calls are treated as stale inclusion steps.
func (ix aggregateIndex) isInclusion(s sequence.Step) bool {
	target, ok := s.ExecuteTarget()
	if !ok {
		return false
	}
	name, known := ix.names[target]
	return !known || ix.naming.IsMeasure(name)
}

func (ix aggregateIndex) order(s sequence.Step) int {
	target, _ := s.ExecuteTarget()
	name, known := ix.names[target]
	if !known {
		return Suffix("")
	}
	return Suffix(name)
}

// rebuildAggregate returns header + sorted inclusion steps + footer. Header
// is everything before the first inclusion step of body; footer is the rest
// of the non-inclusion steps. Every existing step calling measureID is
// dropped and, when include is set, exactly one is added back.
func rebuildAggregate(body []sequence.Step, ix aggregateIndex, measureID int64, include bool) []sequence.Step {
	var header, footer, inclusion []sequence.Step
	seenInclusion := false
	for _, s := range body {
		switch {
		case ix.isInclusion(s):
			seenInclusion = true
			if target, _ := s.ExecuteTarget(); target != measureID {
				inclusion = append(inclusion, s.Clone())
			}
		case seenInclusion:
			footer = append(footer, s.Clone())
		default:
			header = append(header, s.Clone())
		}
	}

	if include {
		inclusion = append(inclusion, sequence.Execute(measureID))
	}
	sort.SliceStable(inclusion, func(i, j int) bool {
		return ix.order(inclusion[i]) < ix.order(inclusion[j])
	})

	out := make([]sequence.Step, 0, len(header)+len(inclusion)+len(footer))
	out = append(out, header...)
	out = append(out, inclusion...)
	return append(out, footer...)
}

func inclusionTargets(body []sequence.Step, ix aggregateIndex) []int64 {
	var ids []int64
	for _, s := range body {
		if ix.isInclusion(s) {
			id, _ := s.ExecuteTarget()
			ids = append(ids, id)
		}
	}
	return ids
}

func sameBody(a, b []sequence.Step) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

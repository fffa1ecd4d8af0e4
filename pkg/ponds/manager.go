package ponds

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/telemetry"
)

// Operations recorded in the journal and passed to admission.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Point defaults for new ponds.
const (
	DefaultPointRadius = 50
	DefaultPointColor  = "green"
)

// PointDefaults are applied to every point the manager creates.
type PointDefaults struct {
	Radius float64
	Color  string
}

// Config configures a Manager.
type Config struct {
	Naming    Naming
	Aggregate AggregateConfig
	Point     PointDefaults
}

// CreateRequest asks for a new pond.
type CreateRequest struct {
	Name string   `json:"name" validate:"required,max=255"`
	X    *float64 `json:"x" validate:"required"`
	Y    *float64 `json:"y" validate:"required"`
}

// CreateResult reports a create. Resumed is set when the point already
// existed and only missing sequences were cloned.
type CreateResult struct {
	Point   farmapi.Point `json:"point"`
	Created int           `json:"created"`
	Resumed bool          `json:"resumed"`
}

// UpdateRequest changes a pond's coordinates and include flag.
type UpdateRequest struct {
	X                  *float64 `json:"x" validate:"required"`
	Y                  *float64 `json:"y" validate:"required"`
	IncludeInAggregate *bool    `json:"includeInAggregate" validate:"required"`
}

// UpdateResult reports an update.
type UpdateResult struct {
	Point     farmapi.Point   `json:"point"`
	Aggregate AggregateResult `json:"aggregate"`
}

// DeleteResult reports a cascade delete.
type DeleteResult struct {
	Point            farmapi.Point   `json:"point"`
	SequencesDeleted int             `json:"sequences_deleted"`
	Aggregate        AggregateResult `json:"aggregate"`
}

// PondStatus is one row of List.
type PondStatus struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	X                  float64  `json:"x"`
	Y                  float64  `json:"y"`
	IncludeInAggregate bool     `json:"includeInAggregate"`
	Color              string   `json:"color,omitempty"`
	Missing            []string `json:"missing,omitempty"`
}

// AdmissionInput describes an operation for the admission policy.
type AdmissionInput struct {
	Operation    string  `json:"operation"`
	PointID      int64   `json:"point_id,omitempty"`
	Name         string  `json:"name"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	TemplateName string  `json:"template_name"`
}

// Admission decides whether an operation may proceed. A denial is returned
// as reasons; err is reserved for evaluation failures.
type Admission interface {
	Admit(ctx context.Context, input AdmissionInput) (reasons []string, err error)
}

// OperationRecord is one journaled create, update or delete.
type OperationRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	PondName    string    `json:"pond_name"`
	PointID     int64     `json:"point_id,omitempty"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Journal status values.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// Journal persists operation and sweep history.
type Journal interface {
	AppendOperation(ctx context.Context, rec OperationRecord) error
	SaveSweepRun(ctx context.Context, run SweepRecord) error
}

// Manager creates, updates and deletes ponds.
type Manager struct {
	remote    Remote
	naming    Naming
	defaults  PointDefaults
	aggregate *AggregateReconciler
	admission Admission
	journal   Journal
	validate  *validator.Validate
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithAdmission sets the admission policy.
func WithAdmission(a Admission) Option {
	return func(m *Manager) { m.admission = a }
}

// WithJournal sets the operation journal.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a pond manager.
func NewManager(remote Remote, cfg Config, opts ...Option) *Manager {
	if cfg.Naming.Pattern == nil {
		cfg.Naming = DefaultNaming()
	}
	if cfg.Point.Radius == 0 {
		cfg.Point.Radius = DefaultPointRadius
	}
	if cfg.Point.Color == "" {
		cfg.Point.Color = DefaultPointColor
	}

	m := &Manager{
		remote:   remote,
		naming:   cfg.Naming,
		defaults: cfg.Point,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "ponds").Logger()
	m.aggregate = NewAggregateReconciler(remote, m.naming, cfg.Aggregate, m.logger, m.metrics)
	return m
}

// Naming returns the naming conventions in use.
func (m *Manager) Naming() Naming {
	return m.naming
}

// Aggregate returns the aggregate reconciler.
func (m *Manager) Aggregate() *AggregateReconciler {
	return m.aggregate
}

// Create creates a pond point and clones every template sequence for it.
//
// If the point already exists but some derived sequences are missing, the
// missing ones are cloned and the result is marked Resumed. Resuming requires
// the request to name the existing coordinates. A point with a full set of
// sequences is a conflict.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (result *CreateResult, err error) {
	ic := telemetry.StartOperation(ctx, "pond.create", telemetry.AttrPointName.String(req.Name))
	ctx = ic.Ctx
	rec := m.startRecord(OpCreate, req.Name)
	defer func() {
		ic.End(err)
		m.metrics.RecordPondOperation(OpCreate, err, ic.Timer.Duration())
		if result != nil {
			rec.PointID = result.Point.ID
			rec.Detail = fmt.Sprintf("created=%d resumed=%t", result.Created, result.Resumed)
		}
		m.finishRecord(ctx, rec, err)
	}()

	if err := m.validate.Struct(req); err != nil {
		return nil, NewValidationError("invalid create request: %v", err).WithOperation(OpCreate)
	}
	if !m.naming.IsPond(req.Name) {
		return nil, NewValidationError("name %q does not match pond pattern %s", req.Name, m.naming.Pattern).
			WithOperation(OpCreate)
	}
	if err := m.admit(ctx, AdmissionInput{Operation: OpCreate, Name: req.Name, X: *req.X, Y: *req.Y}); err != nil {
		return nil, err
	}

	state, err := loadListing(ctx, m.remote)
	if err != nil {
		return nil, err
	}

	existing, exists := state.pointNamed(req.Name)
	tpl, err := ResolveTemplate(m.naming, state.points, state.sequences)
	if err != nil && !exists {
		return nil, err
	}

	result = &CreateResult{}
	if exists {
		if tpl == nil || len(m.missing(tpl, existing.Name, state.sequences)) == 0 {
			return nil, NewConflictError("pond %q already exists", req.Name).
				WithResource(strconv.FormatInt(existing.ID, 10)).
				WithOperation(OpCreate)
		}
		if existing.X != *req.X || existing.Y != *req.Y {
			return nil, NewConflictError("pond %q already exists at x=%g y=%g; retry with those coordinates or update the pond",
				req.Name, existing.X, existing.Y).
				WithResource(strconv.FormatInt(existing.ID, 10)).
				WithOperation(OpCreate)
		}
		result.Point = existing
		result.Resumed = true
		m.logger.Info().
			Int64("point_id", existing.ID).
			Msg("Pond point exists with missing sequences, resuming")
	} else {
		point, err := m.remote.CreatePoint(ctx, farmapi.Point{
			Name:        req.Name,
			PointerType: farmapi.PointerTypeGeneric,
			X:           *req.X,
			Y:           *req.Y,
			Z:           0,
			Radius:      m.defaults.Radius,
			Meta:        map[string]string{farmapi.MetaColor: m.defaults.Color},
		})
		if err != nil {
			return nil, remoteErr(err, "create point %q", req.Name)
		}
		result.Point = *point
		ic.Span.SetAttributes(telemetry.AttrPointID.Int64(point.ID))
	}

	created, err := m.cloneMissing(ctx, tpl, result.Point, state.sequences)
	result.Created = created
	if err != nil {
		rec.Status = StatusPartial
		return result, err
	}

	m.logger.Info().
		Int64("point_id", result.Point.ID).
		Int("created", created).
		Bool("resumed", result.Resumed).
		Msg("Pond created")
	return result, nil
}

// cloneMissing creates every derived sequence of pond not present in
// existing. It stops at the first failure and returns the count so far.
func (m *Manager) cloneMissing(ctx context.Context, tpl *Template, pond farmapi.Point, existing []farmapi.Sequence) (int, error) {
	names := nameSet(existing)
	created := 0
	for _, src := range tpl.Sequences {
		derived := tpl.Derive(m.naming, src, pond)
		if _, ok := names[derived.Name]; ok {
			continue
		}
		if _, err := m.remote.CreateSequence(ctx, derived); err != nil {
			return created, remoteErr(err, "create sequence %q", derived.Name)
		}
		names[derived.Name] = struct{}{}
		created++
	}
	return created, nil
}

func (m *Manager) missing(tpl *Template, pond string, sequences []farmapi.Sequence) []string {
	names := nameSet(sequences)
	var out []string
	for _, name := range tpl.DerivedNames(m.naming, pond) {
		if _, ok := names[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Update patches a pond's coordinates and include flag, then reconciles the
// aggregate sequence.
func (m *Manager) Update(ctx context.Context, id int64, req UpdateRequest) (result *UpdateResult, err error) {
	ic := telemetry.StartOperation(ctx, "pond.update", telemetry.AttrPointID.Int64(id))
	ctx = ic.Ctx
	rec := m.startRecord(OpUpdate, "")
	rec.PointID = id
	defer func() {
		ic.End(err)
		m.metrics.RecordPondOperation(OpUpdate, err, ic.Timer.Duration())
		if result != nil {
			rec.Detail = "aggregate=" + result.Aggregate.Action
		}
		m.finishRecord(ctx, rec, err)
	}()

	if err := m.validate.Struct(req); err != nil {
		return nil, NewValidationError("invalid update request: %v", err).WithOperation(OpUpdate)
	}

	point, err := m.getPoint(ctx, id, OpUpdate)
	if err != nil {
		return nil, err
	}
	rec.PondName = point.Name

	if err := m.admit(ctx, AdmissionInput{Operation: OpUpdate, PointID: id, Name: point.Name, X: *req.X, Y: *req.Y}); err != nil {
		return nil, err
	}

	include := *req.IncludeInAggregate
	meta := make(map[string]string, len(point.Meta)+1)
	for k, v := range point.Meta {
		meta[k] = v
	}
	meta[farmapi.MetaIncludeInAggregate] = strconv.FormatBool(include)

	patched, err := m.remote.PatchPoint(ctx, id, farmapi.PointPatch{
		Name: point.Name,
		X:    *req.X,
		Y:    *req.Y,
		Meta: meta,
	})
	if err != nil {
		return nil, remoteErr(err, "patch point %d", id)
	}

	agg, err := m.aggregate.SetInclusion(ctx, *patched, include)
	if err != nil {
		rec.Status = StatusPartial
		return nil, err
	}

	m.logger.Info().
		Int64("point_id", id).
		Str("pond", point.Name).
		Bool("include", include).
		Str("aggregate", agg.Action).
		Msg("Pond updated")
	return &UpdateResult{Point: *patched, Aggregate: agg}, nil
}

// Delete removes a pond: its aggregate inclusion step first, then every
// sequence named after it, then the point. Each step tolerates work that
// was already done, so a failed delete can be retried.
func (m *Manager) Delete(ctx context.Context, id int64) (result *DeleteResult, err error) {
	ic := telemetry.StartOperation(ctx, "pond.delete", telemetry.AttrPointID.Int64(id))
	ctx = ic.Ctx
	rec := m.startRecord(OpDelete, "")
	rec.PointID = id
	defer func() {
		ic.End(err)
		m.metrics.RecordPondOperation(OpDelete, err, ic.Timer.Duration())
		if result != nil {
			rec.Detail = fmt.Sprintf("sequences_deleted=%d aggregate=%s", result.SequencesDeleted, result.Aggregate.Action)
		}
		m.finishRecord(ctx, rec, err)
	}()

	point, err := m.getPoint(ctx, id, OpDelete)
	if err != nil {
		return nil, err
	}
	rec.PondName = point.Name

	if err := m.admit(ctx, AdmissionInput{Operation: OpDelete, PointID: id, Name: point.Name, X: point.X, Y: point.Y}); err != nil {
		return nil, err
	}

	result = &DeleteResult{Point: *point}

	agg, err := m.aggregate.RemoveInclusion(ctx, *point)
	if err != nil {
		return nil, err
	}
	result.Aggregate = agg

	sequences, err := m.remote.ListSequences(ctx)
	if err != nil {
		rec.Status = StatusPartial
		return result, remoteErr(err, "list sequences")
	}
	for _, s := range sequences {
		if !m.naming.OwnedBy(s.Name, point.Name) {
			continue
		}
		if err := m.remote.DeleteSequence(ctx, s.ID); err != nil && !farmapi.IsNotFound(err) {
			rec.Status = StatusPartial
			return result, remoteErr(err, "delete sequence %q", s.Name)
		}
		result.SequencesDeleted++
	}

	if err := m.remote.DeletePoint(ctx, id); err != nil && !farmapi.IsNotFound(err) {
		rec.Status = StatusPartial
		return result, remoteErr(err, "delete point %d", id)
	}

	m.logger.Info().
		Int64("point_id", id).
		Str("pond", point.Name).
		Int("sequences_deleted", result.SequencesDeleted).
		Msg("Pond deleted")
	return result, nil
}

// List returns every pond sorted by numeric suffix, with the derived
// sequences each one is still missing. Missing is empty when the template
// point is absent.
func (m *Manager) List(ctx context.Context) ([]PondStatus, error) {
	state, err := loadListing(ctx, m.remote)
	if err != nil {
		return nil, err
	}

	tpl, err := ResolveTemplate(m.naming, state.points, state.sequences)
	if err != nil && !IsTemplateMissing(err) {
		return nil, err
	}

	ponds := make([]PondStatus, 0)
	for _, p := range state.points {
		if !m.naming.IsPond(p.Name) {
			continue
		}
		st := PondStatus{
			ID:                 p.ID,
			Name:               p.Name,
			X:                  p.X,
			Y:                  p.Y,
			IncludeInAggregate: p.IncludeInAggregate(),
			Color:              p.Meta[farmapi.MetaColor],
		}
		if tpl != nil {
			st.Missing = m.missing(tpl, p.Name, state.sequences)
		}
		ponds = append(ponds, st)
	}
	sort.SliceStable(ponds, func(i, j int) bool {
		si, sj := Suffix(ponds[i].Name), Suffix(ponds[j].Name)
		if si != sj {
			return si < sj
		}
		return ponds[i].Name < ponds[j].Name
	})
	return ponds, nil
}

func (m *Manager) getPoint(ctx context.Context, id int64, op string) (*farmapi.Point, error) {
	if id <= 0 {
		return nil, NewValidationError("invalid point id %d", id).WithOperation(op)
	}
	point, err := m.remote.GetPoint(ctx, id)
	if err != nil {
		if farmapi.IsNotFound(err) {
			return nil, NewNotFoundError(err, "point %d not found", id).WithOperation(op)
		}
		return nil, remoteErr(err, "get point %d", id)
	}
	return point, nil
}

func (m *Manager) admit(ctx context.Context, input AdmissionInput) error {
	if m.admission == nil {
		return nil
	}
	input.TemplateName = m.naming.TemplateName
	reasons, err := m.admission.Admit(ctx, input)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	if len(reasons) > 0 {
		return NewPolicyDeniedError(strings.Join(reasons, "; ")).
			WithResource(input.Name).
			WithOperation(input.Operation)
	}
	return nil
}

func (m *Manager) startRecord(kind, pond string) *OperationRecord {
	return &OperationRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		PondName:  pond,
		StartedAt: time.Now().UTC(),
	}
}

// finishRecord journals rec. Journal failures are logged, never returned.
func (m *Manager) finishRecord(ctx context.Context, rec *OperationRecord, err error) {
	if m.journal == nil {
		return
	}
	rec.CompletedAt = time.Now().UTC()
	switch {
	case err == nil:
		rec.Status = StatusOK
	case rec.Status == "":
		rec.Status = StatusFailed
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := m.journal.AppendOperation(context.WithoutCancel(ctx), *rec); jerr != nil {
		m.logger.Warn().Err(jerr).Str("operation", rec.Kind).Msg("Failed to journal operation")
	}
}

package ponds

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/farmops/pondsync/pkg/telemetry"
)

// DefaultSweepInterval is the time between timer-triggered sweeps.
const DefaultSweepInterval = 5 * time.Minute

// Sweep triggers.
const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
)

// SweepConfig configures a Sweeper.
type SweepConfig struct {
	Naming   Naming
	Interval time.Duration

	// FailFast aborts a pass at the first failed create. By default every
	// pond/template pair is attempted and failures are aggregated.
	FailFast bool

	Journal Journal
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// SweepRecord is one journaled sweep pass.
type SweepRecord struct {
	ID           string    `json:"id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	PondsScanned int       `json:"ponds_scanned"`
	Created      int       `json:"created"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// SweepResult reports one sweep pass.
type SweepResult struct {
	RunID        string   `json:"run_id"`
	Trigger      string   `json:"trigger"`
	Status       string   `json:"status"`
	PondsScanned int      `json:"ponds_scanned"`
	Created      int      `json:"created"`
	Failed       int      `json:"failed"`
	CreatedNames []string `json:"created_names,omitempty"`

	// Shared is set when the pass served more than one caller.
	Shared bool `json:"shared,omitempty"`
}

// Sweeper completes ponds that are missing derived sequences. It only ever
// creates sequences; wrong bodies and orphans are left alone.
type Sweeper struct {
	remote   Remote
	naming   Naming
	failFast bool
	journal  Journal
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	interval atomic.Int64
	reset    chan struct{}
	group    singleflight.Group
}

// NewSweeper creates a sweeper.
func NewSweeper(remote Remote, cfg SweepConfig) *Sweeper {
	if cfg.Naming.Pattern == nil {
		cfg.Naming = DefaultNaming()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	s := &Sweeper{
		remote:   remote,
		naming:   cfg.Naming,
		failFast: cfg.FailFast,
		journal:  cfg.Journal,
		logger:   cfg.Logger.With().Str("component", "sweep").Logger(),
		metrics:  cfg.Metrics,
		reset:    make(chan struct{}, 1),
	}
	s.interval.Store(int64(cfg.Interval))
	return s
}

// Interval returns the current timer interval.
func (s *Sweeper) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the timer interval. A running loop picks it up
// immediately. Non-positive values are ignored.
func (s *Sweeper) SetInterval(d time.Duration) {
	if d <= 0 || d == s.Interval() {
		return
	}
	s.interval.Store(int64(d))
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Run sweeps once at start when runOnStart is set, then on every tick until
// ctx is cancelled. Failures are logged and journaled, never returned.
func (s *Sweeper) Run(ctx context.Context, runOnStart bool) {
	if runOnStart {
		s.runLogged(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.Interval()).Msg("Sweep loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweep loop stopped")
			return
		case <-s.reset:
			ticker.Reset(s.Interval())
			s.logger.Info().Dur("interval", s.Interval()).Msg("Sweep interval changed")
		case <-ticker.C:
			s.runLogged(ctx, TriggerTimer)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context, trigger string) {
	res, err := s.Sweep(ctx, trigger)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("trigger", trigger).
			Msg("Sweep finished with errors")
		return
	}
	if res.Created > 0 {
		s.logger.Info().
			Str("run_id", res.RunID).
			Int("created", res.Created).
			Msg("Sweep completed missing sequences")
	}
}

// Sweep runs one pass. Calls made while a pass is in flight wait for it and
// share its result. The pass is detached from the caller that started it, so
// a caller that gives up returns ctx.Err() without aborting the pass for the
// others. The result is non-nil even when err is set.
func (s *Sweeper) Sweep(ctx context.Context, trigger string) (*SweepResult, error) {
	passCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("sweep", func() (any, error) {
		return s.sweep(passCtx, trigger)
	})
	select {
	case <-ctx.Done():
		return &SweepResult{Trigger: trigger, Status: StatusFailed}, ctx.Err()
	case r := <-ch:
		res := *r.Val.(*SweepResult)
		res.Shared = r.Shared
		return &res, r.Err
	}
}

func (s *Sweeper) sweep(ctx context.Context, trigger string) (res *SweepResult, err error) {
	res = &SweepResult{RunID: uuid.NewString(), Trigger: trigger}
	ic := telemetry.StartOperation(ctx, "pond.sweep", telemetry.AttrSweepRunID.String(res.RunID))
	ctx = ic.Ctx
	started := time.Now().UTC()
	defer func() {
		ic.End(err)
		res.Status = StatusOK
		if err != nil {
			res.Status = StatusFailed
			if res.Created > 0 {
				res.Status = StatusPartial
			}
		}
		s.metrics.RecordSweep(res.Status, res.Created, res.Failed, ic.Timer.Duration())
		s.metrics.SetPondsManaged(res.PondsScanned)
		s.record(ctx, res, started, err)
	}()

	state, err := loadListing(ctx, s.remote)
	if err != nil {
		return res, err
	}
	tpl, err := ResolveTemplate(s.naming, state.points, state.sequences)
	if err != nil {
		return res, err
	}

	existing := nameSet(state.sequences)
	var errs *multierror.Error
	for _, p := range state.points {
		if !s.naming.IsPond(p.Name) {
			continue
		}
		res.PondsScanned++

		for _, src := range tpl.Sequences {
			derived := tpl.Derive(s.naming, src, p)
			if _, ok := existing[derived.Name]; ok {
				continue
			}
			if _, cerr := s.remote.CreateSequence(ctx, derived); cerr != nil {
				res.Failed++
				cerr = remoteErr(cerr, "create sequence %q", derived.Name)
				if s.failFast {
					return res, cerr
				}
				s.logger.Warn().Err(cerr).Str("pond", p.Name).Msg("Sweep item failed")
				errs = multierror.Append(errs, cerr)
				continue
			}
			existing[derived.Name] = struct{}{}
			res.Created++
			res.CreatedNames = append(res.CreatedNames, derived.Name)
			s.logger.Debug().
				Str("pond", p.Name).
				Str("sequence", derived.Name).
				Msg("Created missing sequence")
		}
	}
	return res, errs.ErrorOrNil()
}

func (s *Sweeper) record(ctx context.Context, res *SweepResult, started time.Time, err error) {
	if s.journal == nil {
		return
	}
	rec := SweepRecord{
		ID:           res.RunID,
		Trigger:      res.Trigger,
		Status:       res.Status,
		PondsScanned: res.PondsScanned,
		Created:      res.Created,
		Failed:       res.Failed,
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := s.journal.SaveSweepRun(context.WithoutCancel(ctx), rec); jerr != nil {
		s.logger.Warn().Err(jerr).Str("run_id", res.RunID).Msg("Failed to journal sweep run")
	}
}

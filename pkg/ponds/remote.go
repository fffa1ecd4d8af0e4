package ponds

import (
	"context"
	"errors"

	"github.com/farmops/pondsync/pkg/farmapi"
)

// Remote is the subset of the FarmBot API the pond engine uses.
// *farmapi.Client implements it.
type Remote interface {
	ListPoints(ctx context.Context) ([]farmapi.Point, error)
	GetPoint(ctx context.Context, id int64) (*farmapi.Point, error)
	CreatePoint(ctx context.Context, p farmapi.Point) (*farmapi.Point, error)
	PatchPoint(ctx context.Context, id int64, patch farmapi.PointPatch) (*farmapi.Point, error)
	DeletePoint(ctx context.Context, id int64) error

	ListSequences(ctx context.Context) ([]farmapi.Sequence, error)
	GetSequence(ctx context.Context, id int64) (*farmapi.Sequence, error)
	CreateSequence(ctx context.Context, s farmapi.Sequence) (*farmapi.Sequence, error)
	PatchSequence(ctx context.Context, id int64, patch farmapi.SequencePatch) (*farmapi.Sequence, error)
	DeleteSequence(ctx context.Context, id int64) error
}

var _ Remote = (*farmapi.Client)(nil)

// remoteErr classifies a failed remote call. Errors that are already
// classified pass through.
func remoteErr(err error, format string, args ...any) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewRemoteError(err, format, args...)
}

// listing is one consistent-enough read of the remote state.
type listing struct {
	points    []farmapi.Point
	sequences []farmapi.Sequence
}

func loadListing(ctx context.Context, remote Remote) (*listing, error) {
	points, err := remote.ListPoints(ctx)
	if err != nil {
		return nil, remoteErr(err, "list points")
	}
	sequences, err := remote.ListSequences(ctx)
	if err != nil {
		return nil, remoteErr(err, "list sequences")
	}
	return &listing{points: points, sequences: sequences}, nil
}

func (l *listing) pointNamed(name string) (farmapi.Point, bool) {
	for _, p := range l.points {
		if p.Name == name {
			return p, true
		}
	}
	return farmapi.Point{}, false
}

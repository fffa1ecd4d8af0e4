package farmapi

import (
	"context"
	"fmt"
)

const (
	pointsPath    = "/api/points"
	sequencesPath = "/api/sequences"
)

// ListPoints returns every point on the account.
func (c *Client) ListPoints(ctx context.Context) ([]Point, error) {
	var points []Point
	if err := c.List(ctx, pointsPath, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// GetPoint returns one point.
func (c *Client) GetPoint(ctx context.Context, id int64) (*Point, error) {
	var p Point
	if err := c.Get(ctx, fmt.Sprintf("%s/%d", pointsPath, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePoint creates a point and returns it with its assigned id.
func (c *Client) CreatePoint(ctx context.Context, p Point) (*Point, error) {
	var out Point
	if err := c.Create(ctx, pointsPath, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchPoint updates a point.
func (c *Client) PatchPoint(ctx context.Context, id int64, patch PointPatch) (*Point, error) {
	var out Point
	if err := c.Patch(ctx, fmt.Sprintf("%s/%d", pointsPath, id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePoint deletes a point.
func (c *Client) DeletePoint(ctx context.Context, id int64) error {
	return c.Delete(ctx, fmt.Sprintf("%s/%d", pointsPath, id))
}

// ListSequences returns every sequence on the account.
func (c *Client) ListSequences(ctx context.Context) ([]Sequence, error) {
	var seqs []Sequence
	if err := c.List(ctx, sequencesPath, &seqs); err != nil {
		return nil, err
	}
	return seqs, nil
}

// GetSequence returns one sequence.
func (c *Client) GetSequence(ctx context.Context, id int64) (*Sequence, error) {
	var s Sequence
	if err := c.Get(ctx, fmt.Sprintf("%s/%d", sequencesPath, id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSequence creates a sequence and returns it with its assigned id.
func (c *Client) CreateSequence(ctx context.Context, s Sequence) (*Sequence, error) {
	s.ID = 0
	var out Sequence
	if err := c.Create(ctx, sequencesPath, s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchSequence replaces a sequence's body.
func (c *Client) PatchSequence(ctx context.Context, id int64, patch SequencePatch) (*Sequence, error) {
	var out Sequence
	if err := c.Patch(ctx, fmt.Sprintf("%s/%d", sequencesPath, id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSequence deletes a sequence.
func (c *Client) DeleteSequence(ctx context.Context, id int64) error {
	return c.Delete(ctx, fmt.Sprintf("%s/%d", sequencesPath, id))
}

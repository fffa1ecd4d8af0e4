// Package pondstest provides an in-memory FarmBot API for pond engine tests.
package pondstest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/sequence"
)

// Operation names accepted by Fail.
const (
	OpListPoints     = "ListPoints"
	OpGetPoint       = "GetPoint"
	OpCreatePoint    = "CreatePoint"
	OpPatchPoint     = "PatchPoint"
	OpDeletePoint    = "DeletePoint"
	OpListSequences  = "ListSequences"
	OpGetSequence    = "GetSequence"
	OpCreateSequence = "CreateSequence"
	OpPatchSequence  = "PatchSequence"
	OpDeleteSequence = "DeleteSequence"
)

type failure struct {
	op    string
	name  string
	err   error
	times int // <0 means forever
}

// FakeRemote is an in-memory FarmBot account. Like the real API it rejects
// duplicate names and answers 404 for unknown ids. It is safe for concurrent
// use.
type FakeRemote struct {
	mu        sync.Mutex
	nextID    int64
	points    map[int64]farmapi.Point
	sequences map[int64]farmapi.Sequence
	failures  []*failure
	calls     map[string]int
}

// NewFakeRemote creates an empty account. Assigned ids start at 1000.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		nextID:    1000,
		points:    make(map[int64]farmapi.Point),
		sequences: make(map[int64]farmapi.Sequence),
		calls:     make(map[string]int),
	}
}

// AddPoint stores p as-is, assigning an id when p.ID is zero.
func (f *FakeRemote) AddPoint(p farmapi.Point) farmapi.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = f.id()
	}
	f.points[p.ID] = copyPoint(p)
	return p
}

// AddSequence stores s as-is, assigning an id when s.ID is zero.
func (f *FakeRemote) AddSequence(s farmapi.Sequence) farmapi.Sequence {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		s.ID = f.id()
	}
	f.sequences[s.ID] = copySequence(s)
	return s
}

// Fail makes the next times calls of op fail with err. When name is not
// empty only calls on a resource with that name fail. times < 0 fails
// forever. A nil err fails with a 500 APIError.
func (f *FakeRemote) Fail(op, name string, times int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = &farmapi.APIError{Method: op, StatusCode: http.StatusInternalServerError, Body: "injected failure"}
	}
	f.failures = append(f.failures, &failure{op: op, name: name, err: err, times: times})
}

// ClearFailures removes every injected failure.
func (f *FakeRemote) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
}

// Calls returns how many times op was called.
func (f *FakeRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Points returns every point ordered by id.
func (f *FakeRemote) Points() []farmapi.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listPoints()
}

// Sequences returns every sequence ordered by id.
func (f *FakeRemote) Sequences() []farmapi.Sequence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listSequences()
}

// PointNamed looks a point up by name.
func (f *FakeRemote) PointNamed(name string) (farmapi.Point, bool) {
	for _, p := range f.Points() {
		if p.Name == name {
			return p, true
		}
	}
	return farmapi.Point{}, false
}

// SequenceNamed looks a sequence up by name.
func (f *FakeRemote) SequenceNamed(name string) (farmapi.Sequence, bool) {
	for _, s := range f.Sequences() {
		if s.Name == name {
			return s, true
		}
	}
	return farmapi.Sequence{}, false
}

// SequenceNames returns every sequence name ordered by id.
func (f *FakeRemote) SequenceNames() []string {
	var names []string
	for _, s := range f.Sequences() {
		names = append(names, s.Name)
	}
	return names
}

func (f *FakeRemote) ListPoints(ctx context.Context) ([]farmapi.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpListPoints, ""); err != nil {
		return nil, err
	}
	return f.listPoints(), nil
}

func (f *FakeRemote) GetPoint(ctx context.Context, id int64) (*farmapi.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	if err := f.enter(OpGetPoint, p.Name); err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("GET", "/api/points", id)
	}
	out := copyPoint(p)
	return &out, nil
}

func (f *FakeRemote) CreatePoint(ctx context.Context, p farmapi.Point) (*farmapi.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreatePoint, p.Name); err != nil {
		return nil, err
	}
	for _, existing := range f.points {
		if existing.Name == p.Name {
			return nil, duplicate("POST", "/api/points", p.Name)
		}
	}
	p.ID = f.id()
	f.points[p.ID] = copyPoint(p)
	out := copyPoint(p)
	return &out, nil
}

func (f *FakeRemote) PatchPoint(ctx context.Context, id int64, patch farmapi.PointPatch) (*farmapi.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	if err := f.enter(OpPatchPoint, p.Name); err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("PATCH", "/api/points", id)
	}
	if patch.Name != "" {
		p.Name = patch.Name
	}
	p.X, p.Y = patch.X, patch.Y
	if patch.Meta != nil {
		p.Meta = copyMeta(patch.Meta)
	}
	f.points[id] = p
	out := copyPoint(p)
	return &out, nil
}

func (f *FakeRemote) DeletePoint(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	if err := f.enter(OpDeletePoint, p.Name); err != nil {
		return err
	}
	if !ok {
		return notFound("DELETE", "/api/points", id)
	}
	delete(f.points, id)
	return nil
}

func (f *FakeRemote) ListSequences(ctx context.Context) ([]farmapi.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpListSequences, ""); err != nil {
		return nil, err
	}
	return f.listSequences(), nil
}

func (f *FakeRemote) GetSequence(ctx context.Context, id int64) (*farmapi.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sequences[id]
	if err := f.enter(OpGetSequence, s.Name); err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("GET", "/api/sequences", id)
	}
	out := copySequence(s)
	return &out, nil
}

func (f *FakeRemote) CreateSequence(ctx context.Context, s farmapi.Sequence) (*farmapi.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateSequence, s.Name); err != nil {
		return nil, err
	}
	for _, existing := range f.sequences {
		if existing.Name == s.Name {
			return nil, duplicate("POST", "/api/sequences", s.Name)
		}
	}
	s.ID = f.id()
	f.sequences[s.ID] = copySequence(s)
	out := copySequence(s)
	return &out, nil
}

func (f *FakeRemote) PatchSequence(ctx context.Context, id int64, patch farmapi.SequencePatch) (*farmapi.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sequences[id]
	if err := f.enter(OpPatchSequence, s.Name); err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("PATCH", "/api/sequences", id)
	}
	if patch.Name != "" {
		s.Name = patch.Name
	}
	s.Body = sequence.CloneBody(patch.Body)
	f.sequences[id] = s
	out := copySequence(s)
	return &out, nil
}

func (f *FakeRemote) DeleteSequence(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sequences[id]
	if err := f.enter(OpDeleteSequence, s.Name); err != nil {
		return err
	}
	if !ok {
		return notFound("DELETE", "/api/sequences", id)
	}
	delete(f.sequences, id)
	return nil
}

// enter counts the call and returns an injected failure, if any.
// Callers hold f.mu.
func (f *FakeRemote) enter(op, name string) error {
	f.calls[op]++
	for _, fl := range f.failures {
		if fl.op != op || fl.times == 0 {
			continue
		}
		if fl.name != "" && fl.name != name {
			continue
		}
		if fl.times > 0 {
			fl.times--
		}
		return fl.err
	}
	return nil
}

func (f *FakeRemote) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *FakeRemote) listPoints() []farmapi.Point {
	out := make([]farmapi.Point, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, copyPoint(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *FakeRemote) listSequences() []farmapi.Sequence {
	out := make([]farmapi.Sequence, 0, len(f.sequences))
	for _, s := range f.sequences {
		out = append(out, copySequence(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func notFound(method, collection string, id int64) error {
	return &farmapi.APIError{
		Method:     method,
		Path:       fmt.Sprintf("%s/%d", collection, id),
		StatusCode: http.StatusNotFound,
		Body:       `{"error":"not found"}`,
	}
}

func duplicate(method, path, name string) error {
	return &farmapi.APIError{
		Method:     method,
		Path:       path,
		StatusCode: http.StatusUnprocessableEntity,
		Body:       fmt.Sprintf(`{"name":"%s is already in use"}`, name),
	}
}

func copyPoint(p farmapi.Point) farmapi.Point {
	p.Meta = copyMeta(p.Meta)
	return p
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySequence(s farmapi.Sequence) farmapi.Sequence {
	s.Body = sequence.CloneBody(s.Body)
	if s.FolderID != nil {
		folder := *s.FolderID
		s.FolderID = &folder
	}
	if s.Args != nil {
		s.Args = append(s.Args[:0:0], s.Args...)
	}
	return s
}

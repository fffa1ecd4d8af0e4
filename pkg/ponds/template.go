package ponds

import (
	"strings"

	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/sequence"
)

// Template is the template point and the sequences cloned for every pond.
type Template struct {
	Point     farmapi.Point
	Sequences []farmapi.Sequence
}

// ResolveTemplate finds the template point and template sequences in full
// listings. An empty sequence list is not an error.
func ResolveTemplate(naming Naming, points []farmapi.Point, sequences []farmapi.Sequence) (*Template, error) {
	var tpl *Template
	for _, p := range points {
		if p.Name == naming.TemplateName {
			tpl = &Template{Point: p}
			break
		}
	}
	if tpl == nil {
		return nil, NewTemplateMissingError(naming.TemplateName)
	}

	suffix := naming.TemplateSuffix()
	for _, s := range sequences {
		if strings.HasSuffix(s.Name, suffix) && naming.Action(s.Name) != "" {
			tpl.Sequences = append(tpl.Sequences, s)
		}
	}
	return tpl, nil
}

// DerivedNames returns the names of every sequence pond should own.
func (t *Template) DerivedNames(naming Naming, pond string) []string {
	names := make([]string, 0, len(t.Sequences))
	for _, s := range t.Sequences {
		names = append(names, naming.DerivedName(s.Name, pond))
	}
	return names
}

// Derive builds the sequence derived from src for pond. Opaque fields are
// copied verbatim; the body is a deep copy with template point references
// retargeted to the pond.
func (t *Template) Derive(naming Naming, src farmapi.Sequence, pond farmapi.Point) farmapi.Sequence {
	body, _ := sequence.Rewrite(src.Body, t.Point.ID, pond.ID)
	out := farmapi.Sequence{
		Name:  naming.DerivedName(src.Name, pond.Name),
		Color: src.Color,
		Body:  body,
	}
	if src.FolderID != nil {
		folder := *src.FolderID
		out.FolderID = &folder
	}
	if len(src.Args) > 0 {
		out.Args = append(out.Args[:0:0], src.Args...)
	}
	return out
}

// nameSet indexes sequence names.
func nameSet(sequences []farmapi.Sequence) map[string]struct{} {
	set := make(map[string]struct{}, len(sequences))
	for _, s := range sequences {
		set[s.Name] = struct{}{}
	}
	return set
}

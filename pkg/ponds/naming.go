package ponds

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Naming defaults.
const (
	DefaultTemplateName  = "Pond X"
	DefaultPondPattern   = `(?i)^Pond \d+$`
	DefaultMeasureAction = "Measure"
)

var trailingNumber = regexp.MustCompile(`(\d+)$`)

// Naming holds the naming conventions that tie ponds to their sequences.
type Naming struct {
	// TemplateName is the name of the template point.
	TemplateName string

	// Pattern matches pond point names. It must not match TemplateName.
	Pattern *regexp.Regexp

	// MeasureAction is the action whose derived sequence the aggregate runs.
	MeasureAction string
}

// DefaultNaming returns the stock FarmBot pond naming.
func DefaultNaming() Naming {
	return Naming{
		TemplateName:  DefaultTemplateName,
		Pattern:       regexp.MustCompile(DefaultPondPattern),
		MeasureAction: DefaultMeasureAction,
	}
}

// NewNaming compiles a pond pattern and fills defaults for empty fields.
func NewNaming(templateName, pattern, measureAction string) (Naming, error) {
	n := DefaultNaming()
	if templateName != "" {
		n.TemplateName = templateName
	}
	if measureAction != "" {
		n.MeasureAction = measureAction
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Naming{}, fmt.Errorf("invalid pond pattern: %w", err)
		}
		n.Pattern = re
	}
	if n.Pattern.MatchString(n.TemplateName) {
		return Naming{}, fmt.Errorf("pond pattern %q matches template name %q", n.Pattern, n.TemplateName)
	}
	return n, nil
}

// TemplateSuffix is the suffix every template sequence name ends with.
func (n Naming) TemplateSuffix() string {
	return " " + n.TemplateName
}

// IsPond reports whether name is a pond point name.
func (n Naming) IsPond(name string) bool {
	return n.Pattern.MatchString(name)
}

// Action strips the template suffix from a template sequence name.
func (n Naming) Action(templateSequence string) string {
	return strings.TrimSpace(strings.TrimSuffix(templateSequence, n.TemplateSuffix()))
}

// DerivedName is the name of the sequence derived from templateSequence for pond.
func (n Naming) DerivedName(templateSequence, pond string) string {
	return n.Action(templateSequence) + " " + pond
}

// MeasureName is the name of the pond's Measure sequence.
func (n Naming) MeasureName(pond string) string {
	return n.MeasureAction + " " + pond
}

// IsMeasure reports whether name is the Measure sequence of some pond.
func (n Naming) IsMeasure(name string) bool {
	prefix := n.MeasureAction + " "
	return strings.HasPrefix(name, prefix) && n.IsPond(strings.TrimPrefix(name, prefix))
}

// OwnedBy reports whether a sequence name belongs to pond by convention.
func (n Naming) OwnedBy(sequenceName, pond string) bool {
	return strings.HasSuffix(sequenceName, " "+pond)
}

// Suffix returns the trailing number of name. Names without one sort last.
func Suffix(name string) int {
	m := trailingNumber.FindString(name)
	if m == "" {
		return math.MaxInt
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return math.MaxInt
	}
	return v
}

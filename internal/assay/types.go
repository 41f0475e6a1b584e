package assay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/monosim/internal/estimator"
)

var (
	// ErrNoReplicates is returned by New for an empty report list.
	ErrNoReplicates = errors.New("assay needs at least one replicate")

	// ErrInvalidMutantClass is returned for an unknown mutant class.
	ErrInvalidMutantClass = errors.New("invalid mutant class")

	// ErrInvalidModel is returned for an unknown estimator model.
	ErrInvalidModel = errors.New("invalid model")
)

// MutantClass selects which per-replicate count series a fit uses.
type MutantClass int

const (
	// ClassMonosome counts every live cell that lost the chromosome copy,
	// including those that later reverted.
	ClassMonosome MutantClass = iota + 1
	// ClassRevertant counts reversion events per replicate.
	ClassRevertant
)

// MutantClasses lists every class in canonical order.
var MutantClasses = []MutantClass{ClassMonosome, ClassRevertant}

func (c MutantClass) String() string {
	switch c {
	case ClassMonosome:
		return "monosome"
	case ClassRevertant:
		return "revert"
	default:
		return fmt.Sprintf("MutantClass(%d)", int(c))
	}
}

// Valid reports whether c is a known class.
func (c MutantClass) Valid() bool {
	return c == ClassMonosome || c == ClassRevertant
}

func (c MutantClass) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMutantClass, int(c))
	}
	return []byte(c.String()), nil
}

func (c *MutantClass) UnmarshalText(b []byte) error {
	v, err := ParseMutantClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseMutantClass accepts "monosome" and "revert" (or "revertant").
func ParseMutantClass(s string) (MutantClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monosome":
		return ClassMonosome, nil
	case "revert", "revertant":
		return ClassRevertant, nil
	default:
		return 0, fmt.Errorf("%w: %q (want monosome or revert)", ErrInvalidMutantClass, s)
	}
}

// Model selects the mutant-count distribution.
type Model int

const (
	// ModelLD is the Luria-Delbrück model (neutral mutants).
	ModelLD Model = iota + 1
	// ModelMK is the Mandelbrot-Koch model (mutants with relative fitness w).
	ModelMK
)

// Models lists every model in canonical order.
var Models = []Model{ModelLD, ModelMK}

func (m Model) String() string {
	switch m {
	case ModelLD:
		return "LD"
	case ModelMK:
		return "MK"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	return m == ModelLD || m == ModelMK
}

func (m Model) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidModel, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Model) UnmarshalText(b []byte) error {
	v, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseModel accepts "LD" and "MK", case-insensitively.
func ParseModel(s string) (Model, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LD":
		return ModelLD, nil
	case "MK":
		return ModelMK, nil
	default:
		return 0, fmt.Errorf("%w: %q (want LD or MK)", ErrInvalidModel, s)
	}
}

// Estimate is a defined fit outcome.
type Estimate struct {
	// M is the expected number of mutations per culture.
	M   float64            `json:"m"`
	MCI estimator.Interval `json:"m_ci"`
	// Mu is the mutation rate M/Nt.
	Mu   float64            `json:"mu"`
	MuCI estimator.Interval `json:"mu_ci"`
}

// Result is one entry of the assay history. Estimate is nil when the solver
// failed, and Failure holds the reason.
type Result struct {
	Mutant     MutantClass `json:"mutant"`
	Model      Model       `json:"model"`
	W          float64     `json:"w"`
	Nt         float64     `json:"nt"`
	UpperBound bool        `json:"upper_bound"`
	Counts     []int       `json:"counts"`
	Estimate   *Estimate   `json:"estimate,omitempty"`
	Failure    string      `json:"failure,omitempty"`
}

// Defined reports whether the fit produced an estimate.
func (r Result) Defined() bool { return r.Estimate != nil }

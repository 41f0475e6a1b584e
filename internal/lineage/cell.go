// Package lineage models a single cell of a clonal lineage under the
// ploidy-loss / reversion mutation model.
//
// Cells never own a random source. Every stochastic decision takes a Stream
// argument supplied by the driver of the simulation, so a whole lineage tree
// draws from one stream and is reproducible from one seed.
package lineage

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidTransition is returned when a state change is requested from a
// state that does not allow it (only Wildtype->Monosome->Revertant is legal).
var ErrInvalidTransition = errors.New("invalid state transition")

// Genealogy markers appended on division.
const (
	founderGenealogy = "0"
	motherMarker     = ".0"
	daughterMarker   = ".1"
)

// Stream is the randomness capability handed to every stochastic decision.
// *math/rand/v2.Rand satisfies it.
type Stream interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64
}

// State is the mutation state of a cell.
type State int

const (
	// Wildtype cells carry the full chromosome complement.
	Wildtype State = iota
	// Monosome cells lost one chromosome copy and pay a fitness penalty.
	Monosome
	// Revertant cells regained the lost copy.
	Revertant
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Wildtype:
		return "wildtype"
	case Monosome:
		return "monosome"
	case Revertant:
		return "revertant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Wildtype, Monosome, Revertant:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState maps "wildtype", "monosome" or "revertant" to a State.
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "wildtype", "":
		return Wildtype, nil
	case "monosome":
		return Monosome, nil
	case "revertant", "revert":
		return Revertant, nil
	default:
		return Wildtype, fmt.Errorf("unknown state %q (valid: wildtype, monosome, revertant)", v)
	}
}

// Params holds the mutation-model parameters. A daughter copies them from its
// mother by value; they never change afterwards.
type Params struct {
	// MonosomeFitness is the probability that a Monosome cell divides in a
	// given generation (1.0 = no penalty).
	MonosomeFitness float64 `json:"monosome_fitness" yaml:"monosome_fitness"`

	// MonosomeRate is the per-division probability that the daughter of a
	// non-Monosome mother loses a chromosome copy.
	MonosomeRate float64 `json:"monosome_rate" yaml:"monosome_rate"`

	// RevertRate is the per-division probability that the daughter of a
	// Monosome mother regains the lost copy.
	RevertRate float64 `json:"revert_rate" yaml:"revert_rate"`

	// Ploidy is the wildtype chromosome copy count.
	Ploidy int `json:"ploidy" yaml:"ploidy"`
}

// Validate checks that probabilities lie in [0,1] and ploidy is at least 1.
func (p Params) Validate() error {
	probs := []struct {
		name string
		v    float64
	}{
		{"monosome_fitness", p.MonosomeFitness},
		{"monosome_rate", p.MonosomeRate},
		{"revert_rate", p.RevertRate},
	}
	for _, pr := range probs {
		if math.IsNaN(pr.v) || pr.v < 0 || pr.v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", pr.name, pr.v)
		}
	}
	if p.Ploidy < 1 {
		return fmt.Errorf("ploidy must be at least 1, got %d", p.Ploidy)
	}
	return nil
}

// Cell is one member of a lineage.
type Cell struct {
	ID        int64  `json:"id"`
	Born      int    `json:"born"`
	Mother    int64  `json:"mother"`
	HasMother bool   `json:"has_mother"`
	Genealogy string `json:"genealogy"`
	Params    Params `json:"params"`
	Ploidy    int    `json:"ploidy"`
	State     State  `json:"state"`

	// MonosomeGeneration and RevertGeneration hold the generation at which the
	// lineage entered that state; nil if it never did.
	MonosomeGeneration *int `json:"monosome_generation,omitempty"`
	RevertGeneration   *int `json:"revert_generation,omitempty"`

	Age       int     `json:"age"`
	Daughters []int64 `json:"daughters,omitempty"`
}

// Division is the outcome of Cell.Divide. At most one of Monosome and Revert
// is true.
type Division struct {
	Daughter *Cell
	Monosome bool
	Revert   bool
}

// NewFounder creates the root cell of a lineage. All parameters are required
// upfront.
func NewFounder(id int64, generation int, params Params) (*Cell, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("founder params: %w", err)
	}
	return &Cell{
		ID:        id,
		Born:      generation,
		Genealogy: founderGenealogy,
		Params:    params,
		Ploidy:    params.Ploidy,
		State:     Wildtype,
	}, nil
}

// IsMonosome reports whether the cell is currently Monosome.
func (c *Cell) IsMonosome() bool { return c.State == Monosome }

// IsRevertant reports whether the cell is Revertant.
func (c *Cell) IsRevertant() bool { return c.State == Revertant }

// IsMutant reports whether the cell lost a chromosome copy at some point.
func (c *Cell) IsMutant() bool { return c.State != Wildtype }

// DecideDivide reports whether the cell divides this generation. Monosome
// cells consume one draw; other cells always divide without drawing.
func (c *Cell) DecideDivide(r Stream) bool {
	if c.State == Monosome {
		return r.Float64() < c.Params.MonosomeFitness
	}
	return true
}

// DecideMonosome draws once against the forward mutation rate.
func (c *Cell) DecideMonosome(r Stream) bool {
	return r.Float64() < c.Params.MonosomeRate
}

// DecideRevert draws once against the reversion rate.
func (c *Cell) DecideRevert(r Stream) bool {
	return r.Float64() < c.Params.RevertRate
}

// BecomeMonosome moves a Wildtype cell to Monosome at generation gen.
func (c *Cell) BecomeMonosome(gen int) error {
	if c.State != Wildtype {
		return fmt.Errorf("%w: cell %d is %s, want wildtype", ErrInvalidTransition, c.ID, c.State)
	}
	if c.Ploidy < 1 {
		return fmt.Errorf("%w: cell %d has ploidy %d", ErrInvalidTransition, c.ID, c.Ploidy)
	}
	c.State = Monosome
	c.Ploidy--
	g := gen
	c.MonosomeGeneration = &g
	return nil
}

// BecomeRevertant moves a Monosome cell to Revertant at generation gen.
func (c *Cell) BecomeRevertant(gen int) error {
	if c.State != Monosome {
		return fmt.Errorf("%w: cell %d is %s, want monosome", ErrInvalidTransition, c.ID, c.State)
	}
	c.State = Revertant
	c.Ploidy++
	g := gen
	c.RevertGeneration = &g
	return nil
}

// Divide produces a daughter with id newID born at generation gen. The
// mother continues the lineage: its age grows, it records the daughter and
// its genealogy gets the mother marker. The daughter gets the mother's
// pre-division genealogy plus the daughter marker.
//
// Exactly one mutation check runs on the daughter: a monosome check when the
// mother is not Monosome, a reversion check when it is.
func (c *Cell) Divide(r Stream, newID int64, gen int) Division {
	daughter := &Cell{
		ID:                 newID,
		Born:               gen,
		Mother:             c.ID,
		HasMother:          true,
		Genealogy:          c.Genealogy + daughterMarker,
		Params:             c.Params,
		Ploidy:             c.Ploidy,
		State:              c.State,
		MonosomeGeneration: copyGen(c.MonosomeGeneration),
		RevertGeneration:   copyGen(c.RevertGeneration),
	}

	c.Age++
	c.Daughters = append(c.Daughters, newID)
	c.Genealogy += motherMarker

	div := Division{Daughter: daughter}
	if c.State != Monosome {
		if c.DecideMonosome(r) {
			// Revertant daughters cannot lose the copy again; the draw still
			// counts as this division's single check.
			if daughter.BecomeMonosome(gen) == nil {
				div.Monosome = true
			}
		}
	} else if c.DecideRevert(r) {
		if daughter.BecomeRevertant(gen) == nil {
			div.Revert = true
		}
	}
	return div
}

func copyGen(g *int) *int {
	if g == nil {
		return nil
	}
	v := *g
	return &v
}

// Summary renders the cell as a small fixed-width table.
func (c *Cell) Summary() string {
	rows := [][2]string{
		{"ploidy:", fmt.Sprint(c.Ploidy)},
		{"monosome:", fmt.Sprint(c.IsMonosome())},
		{"revertant:", fmt.Sprint(c.IsRevertant())},
		{"age:", fmt.Sprint(c.Age)},
	}
	const banner = "--------CELL SUMMARY--------"
	var b strings.Builder
	b.WriteString(banner + "\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %-11s| %-12s|\n", row[0], row[1])
	}
	b.WriteString(banner)
	return b.String()
}

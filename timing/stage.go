// Package timing collects per-stage round-trip timings, reduces them across
// ranks and renders the run report.
package timing

import (
	"fmt"
	"time"
)

// Stage is one internal pipeline phase of a forward or backward transform
type Stage int

// Stages in report column order
const (
	ForwardR2C         Stage = iota // local real-to-complex transform along x
	ForwardExchangeXY                // row transpose X-pencil -> Y-pencil
	ForwardC2CY                      // local complex transform along y
	ForwardExchangeYZ                // column transpose Y-pencil -> Z-pencil
	ForwardC2CZ                      // local complex transform along z
	BackwardC2R                      // local complex-to-real transform along x
	BackwardExchangeYX               // row transpose Y-pencil -> X-pencil
	BackwardC2CY                     // local inverse transform along y
	BackwardExchangeZY               // column transpose Z-pencil -> Y-pencil
	BackwardC2CZ                     // local inverse transform along z
	NumStages
)

var stageLabels = [NumStages]string{
	ForwardR2C:         "r2c",
	ForwardExchangeXY:  "Alltoall_f0",
	ForwardC2CY:        "fc2c1",
	ForwardExchangeYZ:  "Alltoall_f1",
	ForwardC2CZ:        "fc2c2",
	BackwardC2R:        "bc2r",
	BackwardExchangeYX: "Alltoall_b0",
	BackwardC2CY:       "bc2c1",
	BackwardExchangeZY: "Alltoall_b1",
	BackwardC2CZ:       "bc2c2",
}

// SummaryOrder is the order of the per-stage summary lines: local transforms
// in pipeline order, then the exchanges
var SummaryOrder = [NumStages]Stage{
	ForwardR2C, ForwardC2CY, ForwardC2CZ,
	BackwardC2CZ, BackwardC2CY, BackwardC2R,
	ForwardExchangeXY, ForwardExchangeYZ, BackwardExchangeZY, BackwardExchangeYX,
}

// Label returns the fixed report label of a stage
func (s Stage) Label() string {
	if s < 0 || s >= NumStages {
		return fmt.Sprintf("stage%d", int(s))
	}
	return stageLabels[s]
}

func (s Stage) String() string { return s.Label() }

// Profile holds one duration in seconds per stage
type Profile [NumStages]float64

// Scale returns the profile with every stage multiplied by f
func (p Profile) Scale(f float64) Profile {
	for s := range p {
		p[s] *= f
	}
	return p
}

// Timers accumulates stage durations across transform calls
type Timers struct {
	acc Profile
}

// Track adds the time elapsed since start to stage s
func (t *Timers) Track(s Stage, start time.Time) {
	t.acc[s] += time.Since(start).Seconds()
}

// Reset zeroes all stages
func (t *Timers) Reset() {
	t.acc = Profile{}
}

// Profile returns the accumulated durations
func (t *Timers) Profile() Profile {
	return t.acc
}

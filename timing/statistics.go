package timing

import (
	"context"
	"errors"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"io"
	"strings"
)

// ErrNoSamples is returned when statistics are requested from an empty run
var ErrNoSamples = errors.New("timing: no samples recorded")

// Sample is the measurement of one outer repetition: the per-repetition wall
// time and the engine's per-stage durations, both averaged over the inner loop
type Sample struct {
	Wall   float64
	Stages Profile
}

// RunStatistics holds the samples of one round-trip run in repetition order
type RunStatistics struct {
	Samples []Sample
}

// NewRunStatistics preallocates room for n repetitions
func NewRunStatistics(n int) *RunStatistics {
	return &RunStatistics{Samples: make([]Sample, 0, n)}
}

// Record appends the sample of the next repetition
func (rs *RunStatistics) Record(s Sample) {
	rs.Samples = append(rs.Samples, s)
}

// Len returns the number of recorded repetitions
func (rs *RunStatistics) Len() int {
	return len(rs.Samples)
}

const sampleWidth = 1 + int(NumStages)

// Reduce replaces every wall time and stage duration by its maximum across
// the ranks of c. All ranks must hold the same number of samples.
func (rs *RunStatistics) Reduce(ctx context.Context, c comm.Communicator) error {
	flat := make([]float64, 0, len(rs.Samples)*sampleWidth)
	for _, s := range rs.Samples {
		flat = append(flat, s.Wall)
		flat = append(flat, s.Stages[:]...)
	}
	if err := comm.AllreduceMax(ctx, c, flat); err != nil {
		return fmt.Errorf("reduce timing statistics: %w", err)
	}
	for m := range rs.Samples {
		row := flat[m*sampleWidth : (m+1)*sampleWidth]
		rs.Samples[m].Wall = row[0]
		copy(rs.Samples[m].Stages[:], row[1:])
	}
	return nil
}

// Summary is the run-level view of the reduced statistics
type Summary struct {
	Repetitions int
	Fastest     float64 // minimum wall time over repetitions
	Average     float64 // mean wall time over repetitions
	StageBest   Profile // per-stage minimum over repetitions
}

// Summarize computes fastest and mean wall time and the best case of every stage
func (rs *RunStatistics) Summarize() (Summary, error) {
	n := len(rs.Samples)
	if n == 0 {
		return Summary{}, ErrNoSamples
	}

	walls := make([]float64, n)
	column := make([]float64, n)
	for m, s := range rs.Samples {
		walls[m] = s.Wall
	}

	sum := Summary{
		Repetitions: n,
		Fastest:     floats.Min(walls),
		Average:     stat.Mean(walls, nil),
	}
	for st := Stage(0); st < NumStages; st++ {
		for m, s := range rs.Samples {
			column[m] = s.Stages[st]
		}
		sum.StageBest[st] = floats.Min(column)
	}
	return sum, nil
}

// WriteReport renders the summary lines followed by one row per repetition
// with every stage duration in column order
func WriteReport(w io.Writer, sum Summary, rs *RunStatistics) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Fastest=%.6e\n", sum.Fastest)
	fmt.Fprintf(&b, "# Average=%.6e\n", sum.Average)
	for _, st := range SummaryOrder {
		fmt.Fprintf(&b, "# %s=%.6e\n", st.Label(), sum.StageBest[st])
	}
	for _, s := range rs.Samples {
		cols := make([]string, NumStages)
		for st := range s.Stages {
			cols[st] = fmt.Sprintf("%.6e", s.Stages[st])
		}
		b.WriteString(strings.Join(cols, " "))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

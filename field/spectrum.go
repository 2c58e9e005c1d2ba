package field

import (
	"fmt"
	"github.com/notargets/PencilBench/partitions"
	"io"
	"math"
	"strings"
)

// WriteSpectrum prints every coefficient of an interleaved transform-space
// buffer whose |re|+|im| exceeds cutoff, one "(kx,ky,kz) re im" line each,
// with global wavenumbers. The block is written with a single Write.
func WriteSpectrum[T Float](w io.Writer, p partitions.Pencil, spectrum []T, cutoff float64) error {
	if len(spectrum) < 2*p.Count() {
		return fmt.Errorf("spectrum holds %d values, pencil needs %d", len(spectrum), 2*p.Count())
	}
	format := "(%d,%d,%d) %.16g %.16g\n"
	if PrecisionOf[T]() == Single {
		format = "(%d,%d,%d) %.8g %.8g\n"
	}
	var b strings.Builder
	Walk(p, func(i int, g [3]int) {
		re, im := float64(spectrum[2*i]), float64(spectrum[2*i+1])
		if math.Abs(re)+math.Abs(im) > cutoff {
			fmt.Fprintf(&b, format, g[0], g[1], g[2], re, im)
		}
	})
	if b.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(w, b.String())
	return err
}

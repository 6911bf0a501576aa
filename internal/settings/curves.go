package settings

import (
	"math"
	"sync"

	"github.com/edirooss/hdr-recorder/internal/hardware"
)

const hlgCurvePoints = 64

// HLG OETF constants (ITU-R BT.2100).
const (
	hlgA = 0.17883277
	hlgB = 0.28466892
	hlgC = 0.55991073
)

// customCurvePoints is the fixed custom contrast curve, (x, y) interleaved.
// It lifts shadows and rolls off highlights ahead of grading.
var customCurvePoints = []float32{
	0.00, 0.00,
	0.02, 0.08,
	0.05, 0.17,
	0.10, 0.28,
	0.15, 0.37,
	0.20, 0.44,
	0.30, 0.55,
	0.40, 0.64,
	0.50, 0.71,
	0.60, 0.78,
	0.70, 0.84,
	0.80, 0.89,
	0.90, 0.95,
	1.00, 1.00,
}

// Curves are built once and shared; callers must treat them as read-only.
var (
	hlgCurve    = sync.OnceValue(func() *hardware.TonemapCurve { return sameForAllChannels(hlgPoints(hlgCurvePoints)) })
	customCurve = sync.OnceValue(func() *hardware.TonemapCurve { return sameForAllChannels(customCurvePoints) })
)

// HLGCurve returns the 64-point HLG contrast curve.
func HLGCurve() *hardware.TonemapCurve { return hlgCurve() }

// CustomCurve returns the fixed custom contrast curve.
func CustomCurve() *hardware.TonemapCurve { return customCurve() }

func hlgPoints(n int) []float32 {
	pts := make([]float32, n*2)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		var y float64
		if x <= 1.0/12.0 {
			y = math.Sqrt(3 * x)
		} else {
			y = hlgA*math.Log(12*x-hlgB) + hlgC
		}
		pts[i*2] = float32(x)
		pts[i*2+1] = float32(min(max(y, 0), 1))
	}
	return pts
}

func sameForAllChannels(pts []float32) *hardware.TonemapCurve {
	return &hardware.TonemapCurve{Red: pts, Green: pts, Blue: pts}
}

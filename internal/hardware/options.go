package hardware

// Capture-request option values. The zero value of each type means "key not
// set": the hardware keeps its own default for it.

type NoiseReductionMode int

const (
	NoiseReductionUnset NoiseReductionMode = iota
	NoiseReductionOff
	NoiseReductionHighQuality
)

type EdgeMode int

const (
	EdgeUnset EdgeMode = iota
	EdgeOff
	EdgeHighQuality
)

type TonemapMode int

const (
	TonemapUnset TonemapMode = iota
	TonemapHighQuality
	TonemapContrastCurve
)

type AFMode int

const (
	AFUnset AFMode = iota
	AFOff
	AFContinuousVideo
)

// TonemapCurve holds (x, y) control points, interleaved, per channel.
type TonemapCurve struct {
	Red   []float32
	Green []float32
	Blue  []float32
}

// CaptureOptions is a complete set of capture-request options applied to a
// session as one unit.
type CaptureOptions struct {
	NoiseReduction NoiseReductionMode
	Edge           EdgeMode
	Tonemap        TonemapMode
	TonemapCurve   *TonemapCurve // nil: cleared
	AF             AFMode
	FocusDistance  *float32 // nil: cleared (diopters)
	AETargetFps    *[2]int  // nil: unset
}

package stats

import (
	"sync/atomic"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
)

// Preview sensor readings are packed into one word so ISO and exposure are
// always observed together: ISO in the high 24 bits, exposure time (ns) in
// the low 40 bits (~1099 s). Out-of-range values saturate.
const (
	exposureBits = 40
	exposureMask = 1<<exposureBits - 1
	isoMax       = 1<<(64-exposureBits) - 1
)

func packPreview(iso int32, exposureNs int64) uint64 {
	i := uint64(min(int64(iso), isoMax))
	e := uint64(min(exposureNs, exposureMask))
	return i<<exposureBits | e
}

func unpackPreview(w uint64) (iso int32, exposureNs int64) {
	return int32(w >> exposureBits), int64(w & exposureMask)
}

// Video window phases.
const (
	phaseStopped int32 = iota // samples ignored
	phaseArmed                // next sample anchors the window
	phaseRunning
)

// tally is the window phase, the outcome of the last closed FPS window and
// the cumulative drop/add counts. It is immutable once published; a new one
// replaces it.
type tally struct {
	phase   int32
	fps     int
	dropped int64
	added   int64
}

// sharedState is everything the capture callbacks write and the poller reads.
// Every field is a single atomic word; there are no locks on this path.
//
// Writers: the preview callback owns preview; the video callback owns
// windowStart and frames. Start/Stop replace tally. Anchors and window
// closes publish through a CompareAndSwap on tally, so a window that
// straddles a Start/Stop is discarded instead of overwriting the reset.
type sharedState struct {
	preview     atomic.Uint64 // packed ISO + exposure
	tally       atomic.Pointer[tally]
	target      atomic.Int64 // target fps of the current recording
	windowStart atomic.Int64 // sensor ns of the window anchor
	frames      atomic.Int64 // frames since windowStart
}

func newSharedState() *sharedState {
	s := &sharedState{}
	s.tally.Store(&tally{})
	s.target.Store(int64(camera.FPS30))
	return s
}

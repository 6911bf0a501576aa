package camera

// SampleField flags which raw sensor fields a capture result carried.
// Capture results are sparse: any field may be absent on a given frame.
type SampleField uint8

const (
	FieldTimestamp SampleField = 1 << iota
	FieldSensitivity
	FieldExposure
)

// FrameSample is the per-frame value pushed by the capture callback path.
// It is passed by value and never retained.
type FrameSample struct {
	Fields      SampleField
	TimestampNs int64 // sensor timestamp, monotonic nanoseconds
	ISO         int32 // sensor sensitivity
	ExposureNs  int64 // exposure time, nanoseconds
}

// Has reports whether every field in f is present.
func (s FrameSample) Has(f SampleField) bool { return s.Fields&f == f }

// NewFrameSample builds a fully-populated sample.
func NewFrameSample(tsNs int64, iso int32, exposureNs int64) FrameSample {
	return FrameSample{
		Fields:      FieldTimestamp | FieldSensitivity | FieldExposure,
		TimestampNs: tsNs,
		ISO:         iso,
		ExposureNs:  exposureNs,
	}
}

// SampleSink receives capture callbacks for one use-case. Implementations must
// not block.
type SampleSink func(FrameSample)

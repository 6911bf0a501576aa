package camera

// DynamicRange is the dynamic range requested from a use-case.
type DynamicRange int

const (
	DynamicRangeUnspecified DynamicRange = iota // let the pipeline decide
	DynamicRangeSDR
	DynamicRangeHLG10
	DynamicRangeHDRUnspecified10
)

func (d DynamicRange) String() string {
	switch d {
	case DynamicRangeSDR:
		return "sdr"
	case DynamicRangeHLG10:
		return "hlg_10bit"
	case DynamicRangeHDRUnspecified10:
		return "hdr_unspecified_10bit"
	default:
		return "unspecified"
	}
}

// Size is a pixel size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AspectRatio4x3 is the only aspect ratio either use-case is built with.
const AspectRatio4x3 = "4:3"

// PreviewSpec describes the preview use-case for one bind.
type PreviewSpec struct {
	AspectRatio  string
	TargetSize   Size // resolved closest-lower-then-higher by the hardware
	FpsRange     [2]int
	DynamicRange DynamicRange
}

// VideoSpec describes the video-encoding use-case for one bind.
type VideoSpec struct {
	Quality       Quality
	AspectRatio   string
	BitrateBps    int
	Stabilization bool
	DynamicRange  DynamicRange
}

// UseCases is the full set of use-cases rebuilt from a SessionConfig on
// every bind. Both are bound together.
type UseCases struct {
	Config  SessionConfig
	Preview PreviewSpec
	Video   VideoSpec
}

// BuildUseCases derives preview and video use-case specs from cfg.
func BuildUseCases(cfg SessionConfig) UseCases {
	preview := PreviewSpec{
		AspectRatio: AspectRatio4x3,
		TargetSize:  Size{Width: 1000, Height: 750},
		FpsRange:    [2]int{int(cfg.FrameRate), int(cfg.FrameRate)},
	}
	// Only force SDR when asked; otherwise leave preview range to the pipeline.
	if cfg.SdrToneMap {
		preview.DynamicRange = DynamicRangeSDR
	}

	video := VideoSpec{
		Quality:       cfg.Quality,
		AspectRatio:   AspectRatio4x3,
		BitrateBps:    BitrateFor(cfg.FrameRate),
		Stabilization: true,
		DynamicRange:  DynamicRangeHDRUnspecified10,
	}
	if cfg.Gamma == GammaDevice {
		video.DynamicRange = DynamicRangeHLG10
	}

	return UseCases{Config: cfg, Preview: preview, Video: video}
}

// BitrateFor returns the target video bitrate for a frame rate (1 Mb/s per fps
// for the supported rates, 30 Mb/s otherwise).
func BitrateFor(r FrameRate) int {
	switch r {
	case FPS60:
		return 60_000_000
	case FPS30:
		return 30_000_000
	case FPS24:
		return 24_000_000
	default:
		return 30_000_000
	}
}

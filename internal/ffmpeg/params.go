package ffmpeg

// OptionType is a named capture behaviour flag that maps onto ffmpeg input arguments.
type OptionType string

// Capture option flags.
const (
	OptionLowLatency         OptionType = "low_latency"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionGeneratePTS        OptionType = "genpts"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionNativeRate         OptionType = "native_rate"
)

// CaptureParams describes one decode job that turns a camera address into
// a rawvideo stream on stdout.
type CaptureParams struct {
	Binary    string // ffmpeg executable, default "ffmpeg"
	Address   string // rtsp://, http(s):// or a file path
	Transport string // rtsp transport: tcp or udp; empty keeps ffmpeg's default
	Width     int
	Height    int
	FPS       int
	PixFmt    string // rgb24 or gray, default rgb24
	LogLevel  string // ffmpeg log level, default warning
	Options   []OptionType
}

// FrameSize returns the byte length of one output frame.
func (p CaptureParams) FrameSize() int {
	bpp := 3
	if p.PixFmt == "gray" {
		bpp = 1
	}
	return p.Width * p.Height * bpp
}

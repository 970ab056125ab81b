package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/smazurov/camhub/internal/frame"
	"github.com/smazurov/camhub/internal/logging"
	"github.com/smazurov/camhub/internal/source"
	"github.com/smazurov/camhub/internal/streaming"
	"github.com/spf13/cobra"
)

// ProbeOptions controls a source probe.
type ProbeOptions struct {
	Width     int
	Height    int
	FPS       int
	Timeout   time.Duration
	Binary    string
	Transport string
	Snapshot  string
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	opts := ProbeOptions{}

	cmd := &cobra.Command{
		Use:   "probe [address]",
		Short: "Read one frame from a camera address",
		Long: `Opens the address the same way a camera session would, waits for the first frame and ` +
			`prints its size. Use it to check a camera before adding it.`,
		Args:             cobra.ExactArgs(1),
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			opener := source.NewMux()
			opener.Register(source.NewFFmpeg(source.FFmpegConfig{
				Binary:    opts.Binary,
				Transport: opts.Transport,
				Logger:    logging.GetLogger("source"),
			}), "rtsp", "rtsp+tcp", "rtsp+udp", "rtsps", "http", "https", "file")
			opener.Register(source.Pattern{}, "test")

			return RunProbe(cmd.Context(), cmd.OutOrStdout(), opener, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.Width, "width", 640, "Decode width")
	cmd.Flags().IntVar(&opts.Height, "height", 480, "Decode height")
	cmd.Flags().IntVar(&opts.FPS, "fps", 0, "Decode frame rate, 0 keeps the source rate")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Time allowed to get the first frame")
	cmd.Flags().StringVar(&opts.Binary, "ffmpeg", "ffmpeg", "ffmpeg executable")
	cmd.Flags().StringVar(&opts.Transport, "transport", "tcp", "RTSP transport (tcp, udp)")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "Write the frame as JPEG to this file")

	return cmd
}

// RunProbe opens address with opener and reports the first frame.
func RunProbe(ctx context.Context, out io.Writer, opener source.Opener, address string, opts ProbeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, elapsed, err := source.Probe(ctx, opener, source.Target{
		Address: address,
		Width:   opts.Width,
		Height:  opts.Height,
		FPS:     opts.FPS,
	}, opts.Timeout)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "ok %dx%d %s after %s\n", raw.Width, raw.Height, raw.Format, elapsed.Round(time.Millisecond))

	if opts.Snapshot == "" {
		return nil
	}
	data, err := streaming.NewJPEGEncoder(streaming.DefaultJPEGQuality).Encode(&frame.Frame{CameraID: "probe", Seq: 1, Raw: raw})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(opts.Snapshot, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	_, _ = fmt.Fprintf(out, "snapshot written to %s\n", opts.Snapshot)
	return nil
}

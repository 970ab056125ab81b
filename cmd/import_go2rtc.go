package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/smazurov/camhub/internal/cameras"
	"github.com/smazurov/camhub/internal/cameras/store"
	"github.com/smazurov/camhub/internal/logging"
	"github.com/spf13/cobra"
)

// ImportOptions controls a go2rtc import.
type ImportOptions struct {
	CamerasFile string
	Unique      bool
	Disabled    bool
	DryRun      bool
}

// CreateImportGo2RTCCmd creates the import-go2rtc command.
func CreateImportGo2RTCCmd() *cobra.Command {
	opts := ImportOptions{}

	cmd := &cobra.Command{
		Use:   "import-go2rtc [go2rtc.yaml]",
		Short: "Import cameras from a go2rtc configuration",
		Long: `Reads the streams section of a go2rtc.yaml file and adds every RTSP camera found there ` +
			`to the camera file. Cameras that already exist are left untouched.`,
		Args: cobra.ExactArgs(1),
		// The server bootstrap is not needed here
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			return RunImportGo2RTC(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.CamerasFile, "cameras", "cameras.toml", "Camera definitions file to write")
	cmd.Flags().BoolVar(&opts.Unique, "unique", true, "Keep one stream per host and channel, preferring HD")
	cmd.Flags().BoolVar(&opts.Disabled, "disabled", false, "Import cameras without starting them")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print what would be imported without writing")

	return cmd
}

// RunImportGo2RTC imports the cameras of the go2rtc file at path.
func RunImportGo2RTC(ctx context.Context, out io.Writer, path string, opts ImportOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read go2rtc config: %w", err)
	}
	descriptors, err := cameras.Go2RTCDescriptors(data, opts.Unique, !opts.Disabled)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		_, _ = fmt.Fprintln(out, "no rtsp streams found")
		return nil
	}

	if opts.DryRun {
		for _, d := range descriptors {
			_, _ = fmt.Fprintf(out, "would import %s (%s)\n", d.ID, d.Location)
		}
		return nil
	}

	cameraStore := store.NewTOML(opts.CamerasFile)
	if err := cameraStore.Load(); err != nil {
		return fmt.Errorf("load cameras: %w", err)
	}
	svc := cameras.NewService(cameraStore, nil, logging.GetLogger("cameras"))

	created, skipped, err := svc.Import(ctx, descriptors)
	for _, id := range created {
		_, _ = fmt.Fprintf(out, "imported %s\n", id)
	}
	for _, id := range skipped {
		_, _ = fmt.Fprintf(out, "skipped %s\n", id)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%d imported, %d skipped into %s\n", len(created), len(skipped), cameraStore.Path())
	return nil
}

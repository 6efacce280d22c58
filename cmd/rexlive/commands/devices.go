package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rexlive/pkg/audio"
	"github.com/MrWong99/rexlive/pkg/audio/native"
)

// newDevicesCmd creates the `rexlive devices` command.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture and playback devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := native.New()
			if err != nil {
				return fmt.Errorf("open audio backend: %w", err)
			}
			defer dev.Close()

			captures, playbacks, err := dev.Devices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			return printDevices(cmd.OutOrStdout(), captures, playbacks)
		},
	}
}

func printDevices(w io.Writer, captures, playbacks []audio.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tDEFAULT\tNAME")
	for _, d := range captures {
		fmt.Fprintf(tw, "capture\t%s\t%s\n", mark(d.IsDefault), d.Name)
	}
	for _, d := range playbacks {
		fmt.Fprintf(tw, "playback\t%s\t%s\n", mark(d.IsDefault), d.Name)
	}
	return tw.Flush()
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

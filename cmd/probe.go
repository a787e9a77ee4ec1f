package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rapidclip/internal/clipping"
	"rapidclip/internal/probe"
	"rapidclip/pkg/models"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <media-file>",
		Short: "Print the timeline of an MP4 or static DASH file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeline, err := probe.ProbeFile(args[0])
			if err != nil {
				return err
			}
			return writeTimeline(cmd.OutOrStdout(), timeline)
		},
	}
}

func newClipCmd() *cobra.Command {
	clipCmd := &cobra.Command{
		Use:   "clip <media-file>",
		Short: "Print the timeline of a media file clipped to [start, end)",
		Long: `Probe a media file and clip its timeline.

Without --end the clip runs to the end of the source. Ends past the
source duration are clamped to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetDuration("start")
			end, _ := cmd.Flags().GetDuration("end")

			bounds := models.ClipBounds{StartUs: start.Microseconds(), EndUs: models.TimeEndOfSource}
			if cmd.Flags().Changed("end") {
				bounds.EndUs = end.Microseconds()
			}

			timeline, err := probe.ProbeFile(args[0])
			if err != nil {
				return err
			}

			clipped, err := clipping.Apply(timeline, bounds)
			if err != nil {
				return fmt.Errorf("failed to clip %s: %w", args[0], err)
			}
			return writeTimeline(cmd.OutOrStdout(), clipped)
		},
	}

	clipCmd.Flags().Duration("start", 0, "Clip start (e.g. 1.5s)")
	clipCmd.Flags().Duration("end", time.Duration(0), "Clip end (default: end of source)")

	return clipCmd
}

func writeTimeline(w io.Writer, timeline models.Timeline) error {
	data, err := json.MarshalIndent(timeline, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode timeline: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"themerizr/internal/config"
	"themerizr/internal/controller"
	"themerizr/internal/exporter"
)

var (
	green = color.New(color.FgGreen).Add(color.Bold)
	red   = color.New(color.FgRed).Add(color.Bold)
)

func newConvertCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert SOURCE TARGET --prefix PREFIX",
		Short: "Convert SVG icons to PNG and write theme.json",
		Long: "Converts all SVG images in SOURCE to PNG images fitting within --width x --height,\n" +
			"copies PNG, JPEG and GIF images through unchanged and writes a theme.json\n" +
			"for a Structurizr theme into TARGET.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args)
		},
	}
	addConvertFlags(cmd.Flags(), opts)
	return cmd
}

func runConvert(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := opts.resolve(cmd, args)
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)
	_, err = convertOnce(cmd, cfg, logger, controller.New(cfg, logger))
	return err
}

// convertOnce runs the controller, writes the optional report and prints the summary.
func convertOnce(cmd *cobra.Command, cfg *config.Config, logger log.FieldLogger, ctrl *controller.Controller) (*controller.Summary, error) {
	s, err := ctrl.Run(cmd.Context())
	if err != nil {
		return nil, err
	}
	if cfg.Report != "" {
		if err := exporter.Export(cfg.Report, cfg.Prefix, s.Results()); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		logger.WithField("report", cfg.Report).Info("Report written")
	}
	printSummary(cmd.OutOrStdout(), s)
	return s, nil
}

func printSummary(w io.Writer, s *controller.Summary) {
	green.Fprintf(w, "%d converted, %d copied", len(s.Converted), len(s.Copied))
	if len(s.Failed) > 0 {
		fmt.Fprint(w, ", ")
		red.Fprintf(w, "%d failed", len(s.Failed))
	}
	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, ", %d skipped", len(s.Skipped))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Conversion complete. PNG files and theme.json are saved in '%s'.\n", s.Target)
}

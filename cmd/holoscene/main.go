package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/holoscene/internal/logging"
	"github.com/fpang/holoscene/internal/metrics"
)

// Global flags
var (
	configFlag  string
	ownerFlag   string
	metricsFlag bool
)

// rootCmd is the main Cobra command for the holoscene CLI.
var rootCmd = &cobra.Command{
	Use:   "holoscene",
	Short: "Generate, composite and render holographic media",
	Long: `Holoscene drives the media pipeline from the command line: it generates
stills and clips through the configured providers, blends layers with ffmpeg,
renders text overlays through the headless renderer, and stores the result
durably.

Configuration comes from built-in defaults, a .env file, an optional TOML file
(--config) and HOLOSCENE_* environment variables, in that order.

Examples:
  holoscene image -p "a neon koi in a dark pond"
  holoscene video -p "the koi swims in a circle" --background ./stage.png
  holoscene composite --background ./stage.png --foreground ./koi.mp4 -t 6
  holoscene render --video ./koi.mp4 --text "Hello@0-3" --text "World@3-8"
  holoscene run run-6f1c...
  holoscene doctor`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		if !metricsFlag {
			metrics.SetOutput(io.Discard)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "local", "Owner id the artifact is stored under")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "Print CloudWatch EMF metric lines to stdout")

	rootCmd.AddCommand(imageCmd, videoCmd, compositeCmd, renderCmd, runCmd, doctorCmd, serveMediaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

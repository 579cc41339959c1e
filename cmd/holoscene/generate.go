package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/holoscene/internal/app"
	"github.com/fpang/holoscene/internal/cli"
	"github.com/fpang/holoscene/internal/pipeline"
)

// Generation flags
var (
	promptFlag      string
	imagePromptFlag string
	aspectFlag      string
	modelFlag       string
	backgroundFlag  string
	foregroundFlag  string
	videoFlag       string
	overlayFlag     string
	textFlags       []string
	fontFlag        string
	colorFlag       string
	glowFlag        string
	effectFlag      string
	fontSizeFlag    int
	durationFlag    float64
	sourceKeyFlag   string
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Generate a still image and store it",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, a *app.App) (*pipeline.Result, error) {
			return a.Coordinator.GenerateImage(ctx, pipeline.ImageRequest{
				OwnerID:     ownerFlag,
				Prompt:      promptOrAsk(),
				AspectRatio: aspectFlag,
				Model:       modelFlag,
				SourceKey:   sourceKeyFlag,
			})
		})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Generate a still, animate it, optionally blend it over a background",
	Run: func(cmd *cobra.Command, args []string) {
		background := mustResolve(backgroundFlag)
		withApp(func(ctx context.Context, a *app.App) (*pipeline.Result, error) {
			return a.Coordinator.GenerateVideo(ctx, pipeline.VideoRequest{
				OwnerID:         ownerFlag,
				Prompt:          promptOrAsk(),
				ImagePrompt:     imagePromptFlag,
				AspectRatio:     aspectFlag,
				DurationSeconds: int(durationFlag),
				Background:      background,
				SourceKey:       sourceKeyFlag,
			})
		})
	},
}

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "Screen-blend a foreground clip over a background",
	Run: func(cmd *cobra.Command, args []string) {
		background := mustResolve(backgroundFlag)
		foreground := mustResolve(foregroundFlag)
		withApp(func(ctx context.Context, a *app.App) (*pipeline.Result, error) {
			return a.Coordinator.CompositeOverlay(ctx, pipeline.CompositeRequest{
				OwnerID:         ownerFlag,
				Background:      background,
				Foreground:      foreground,
				DurationSeconds: durationFlag,
				SourceKey:       sourceKeyFlag,
			})
		})
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render styled text over a video",
	Run: func(cmd *cobra.Command, args []string) {
		base := mustResolve(videoFlag)
		overlay := mustResolve(overlayFlag)
		texts, err := parseTexts(textFlags, durationFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --text")
		}
		withApp(func(ctx context.Context, a *app.App) (*pipeline.Result, error) {
			return a.Coordinator.RenderTextOverlay(ctx, pipeline.RenderRequest{
				OwnerID:         ownerFlag,
				BaseVideo:       base,
				Texts:           texts,
				Style:           styleFromFlags(),
				OverlayImage:    overlay,
				DurationSeconds: durationFlag,
				SourceKey:       sourceKeyFlag,
			})
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show the state history of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, a := cli.InitApp(configFlag)
		defer a.Close()

		status, err := a.Coordinator.GetRun(ctx, args[0])
		if err != nil {
			log.Fatal().Err(err).Str("runId", args[0]).Msg("Failed to read run")
		}
		if status == nil {
			log.Fatal().Str("runId", args[0]).Msg("Run not found")
		}
		cli.PrintRun(os.Stdout, status)
	},
}

func init() {
	for _, c := range []*cobra.Command{imageCmd, videoCmd} {
		c.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Generation prompt (asked interactively when empty)")
		c.Flags().StringVarP(&aspectFlag, "aspect-ratio", "a", "", "Aspect ratio, e.g. 1:1 or 9:16")
	}
	imageCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Provider model override")
	videoCmd.Flags().StringVar(&imagePromptFlag, "image-prompt", "", "Prompt for the still (defaults to --prompt)")
	videoCmd.Flags().StringVar(&backgroundFlag, "background", "", "Background image to blend the clip over")
	videoCmd.Flags().Float64VarP(&durationFlag, "duration", "t", 0, "Clip length in seconds (provider default when 0)")

	compositeCmd.Flags().StringVar(&backgroundFlag, "background", "", "Background image or video")
	compositeCmd.Flags().StringVar(&foregroundFlag, "foreground", "", "Foreground clip (dark pixels become transparent)")
	compositeCmd.Flags().Float64VarP(&durationFlag, "duration", "t", 0, "Output length in seconds (default 8)")
	compositeCmd.MarkFlagRequired("background")
	compositeCmd.MarkFlagRequired("foreground")

	renderCmd.Flags().StringVar(&videoFlag, "video", "", "Base video")
	renderCmd.Flags().StringVar(&overlayFlag, "overlay", "", "Optional overlay image")
	renderCmd.Flags().StringArrayVar(&textFlags, "text", nil, "Text item as TEXT or TEXT@START-END (seconds); repeatable")
	renderCmd.Flags().StringVar(&fontFlag, "font", "", "Font family")
	renderCmd.Flags().IntVar(&fontSizeFlag, "font-size", 0, "Font size in pixels")
	renderCmd.Flags().StringVar(&colorFlag, "color", "", "Text color")
	renderCmd.Flags().StringVar(&glowFlag, "glow", "", "Glow color")
	renderCmd.Flags().StringVar(&effectFlag, "effect", "", "Text effect name")
	renderCmd.Flags().Float64VarP(&durationFlag, "duration", "t", 0, "Output length in seconds (default 8)")
	renderCmd.MarkFlagRequired("video")
	renderCmd.MarkFlagRequired("text")

	for _, c := range []*cobra.Command{imageCmd, videoCmd, compositeCmd, renderCmd} {
		c.Flags().StringVar(&sourceKeyFlag, "source-key", "", "Idempotency key; an existing artifact for it is returned as-is")
	}
}

// withApp wires the pipeline, runs fn under an interrupt-aware context and
// prints the outcome.
func withApp(fn func(ctx context.Context, a *app.App) (*pipeline.Result, error)) {
	ctx, a := cli.InitApp(configFlag)
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := fn(ctx, a)
	if err != nil {
		a.Close()
		cli.HandleFailure(err)
	}
	cli.PrintResult(os.Stdout, res)
}

func promptOrAsk() string {
	if promptFlag != "" {
		return promptFlag
	}
	return cli.PromptFor(os.Stdin, os.Stderr, "Prompt", "")
}

func mustResolve(ref string) string {
	resolved, err := cli.ResolveMediaRef(ref)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid media reference")
	}
	return resolved
}

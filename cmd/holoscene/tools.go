package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/holoscene/internal/config"
	"github.com/fpang/holoscene/internal/media"
	"github.com/fpang/holoscene/internal/render"
)

// Tool flags
var (
	dirFlag  string
	addrFlag string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and required binaries",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Configuration is invalid")
		}

		binaries := []string{cfg.Compositor.FFmpegPath}
		if cfg.Compositor.Verify {
			binaries = append(binaries, cfg.Compositor.FFprobePath)
		}
		if cfg.Render.Enabled {
			binaries = append(binaries, cfg.Render.Command)
		}

		failed := 0
		for _, bin := range binaries {
			path, err := media.CheckBinary(bin)
			if err != nil {
				fmt.Printf("  ✗ %s\n", err)
				failed++
				continue
			}
			fmt.Printf("  ✓ %s → %s\n", bin, path)
		}

		fmt.Printf("\nImage provider: %s, video provider: %s\n", cfg.Provider.ImageProvider, cfg.Provider.VideoProvider)
		fmt.Printf("Storage: %s, store: %s\n", cfg.Storage.Backend, cfg.Store.Backend)
		fmt.Printf("Video path budget: %s of %s ceiling\n", cfg.Budgets.VideoPath(), cfg.Budgets.Ceiling())

		if failed > 0 {
			os.Exit(1)
		}
	},
}

var serveMediaCmd = &cobra.Command{
	Use:   "serve-media",
	Short: "Serve a staging directory the way the renderer sees it",
	Long: `Serve allow-listed media and props files from a directory over HTTP,
using the same routes the render bridge exposes to the headless renderer.
Useful when developing render templates.`,
	Run: func(cmd *cobra.Command, args []string) {
		h, err := render.NewHandler(dirFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build handler")
		}
		srv := &http.Server{Addr: addrFlag, Handler: h, ReadHeaderTimeout: 10 * time.Second}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		log.Info().Str("addr", addrFlag).Str("dir", dirFlag).Msg("Serving media")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	},
}

func init() {
	serveMediaCmd.Flags().StringVarP(&dirFlag, "directory", "d", ".", "Directory to serve")
	serveMediaCmd.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:8787", "Listen address")
}

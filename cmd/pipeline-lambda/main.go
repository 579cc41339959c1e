// Package main provides the pipeline Lambda entry point.
//
// The Lambda runs one pipeline request per invocation and returns the
// durable URL of the stored artifact, or a structured failure. Callers
// either invoke it synchronously or asynchronously and read the run record
// with a "status" event.
//
// Event format:
//
//	{
//	  "type": "image"|"video"|"composite"|"render"|"status",
//	  "ownerId": "user-123",
//	  "runId": "run-xxx",           // status only
//	  ...fields of the matching request type
//	}
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/app"
	"github.com/fpang/holoscene/internal/config"
	"github.com/fpang/holoscene/internal/lambdaboot"
	"github.com/fpang/holoscene/internal/logging"
)

var coldStart = true

// Pipeline wired at cold start.
var pipelineApp *app.App

// bootstrap wires the pipeline during the Lambda init phase. It runs from
// main rather than init so the package stays testable.
func bootstrap() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	lambdaboot.LoadProviderSecrets(context.Background(), aws.SSM)

	cfg, err := config.Load(os.Getenv("HOLOSCENE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.InitWithLevel(cfg.LogLevel)

	pipelineApp, err = app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	pipelineApp.Warm(context.Background())

	sl := lambdaboot.StartupLog("pipeline-lambda", initStart).
		SSMParam("geminiKey", envOr("SSM_GEMINI_KEY_PARAM", lambdaboot.DefaultGeminiKeyParam)).
		SSMParam("providerKey", envOr("SSM_PROVIDER_KEY_PARAM", lambdaboot.DefaultProviderKeyParam))
	if commit := os.Getenv("COMMIT_HASH"); commit != "" {
		sl.CommitHash(commit)
	}
	pipelineApp.StartupLog(sl).Log()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	bootstrap()
	lambda.Start(handler)
}

func handler(ctx context.Context, raw json.RawMessage) (*Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "pipeline-lambda").Msg("Cold start, first invocation")
	}
	if deadline, ok := ctx.Deadline(); ok {
		log.Debug().Dur("remaining", time.Until(deadline)).Msg("Invocation deadline")
	}
	return dispatch(ctx, pipelineApp.Coordinator, raw)
}

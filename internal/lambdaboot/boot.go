// Package lambdaboot provides shared cold-start bootstrap logic.
//
// Every entry point needs some subset of: AWS config, S3, DynamoDB, SSM
// parameter fetch, and startup logging. This package extracts the common
// init patterns so each main() is a short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/logging"
	"github.com/fpang/holoscene/internal/store"
)

// Default SSM parameter paths for provider secrets.
const (
	DefaultGeminiKeyParam   = "/holoscene/prod/gemini-api-key"
	DefaultProviderKeyParam = "/holoscene/prod/provider-api-key"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// LoadAWS loads the default AWS config and returns it along with common
// clients.
func LoadAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitAWS is LoadAWS for Lambda init, where a failure is fatal.
func InitAWS() AWSClients {
	clients, err := LoadAWS(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	return clients
}

// InitS3 creates an S3 client and presigner for bucket.
func InitS3(cfg aws.Config, bucket string) S3Clients {
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamo creates a DynamoDB artifact store for tableName.
func InitDynamo(cfg aws.Config, tableName string) *store.DynamoStore {
	ddbClient := dynamodb.NewFromConfig(cfg)
	return store.NewDynamoStore(ddbClient, tableName)
}

// ParameterGetter is the subset of the SSM client used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret makes envVar available from SSM Parameter Store when it is
// not already set. The parameter name comes from paramEnvVar, falling back
// to defaultParam. On success the value is exported to envVar so config
// loading picks it up.
func LoadSecret(ctx context.Context, client ParameterGetter, envVar, paramEnvVar, defaultParam string) error {
	if os.Getenv(envVar) != "" {
		return nil
	}
	paramName := os.Getenv(paramEnvVar)
	if paramName == "" {
		paramName = defaultParam
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read %s from SSM %s: %w", envVar, paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return fmt.Errorf("SSM parameter %s has no value", paramName)
	}
	os.Setenv(envVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Str("envVar", envVar).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return nil
}

// LoadProviderSecrets loads the Gemini and REST provider API keys. A
// missing key is logged, not fatal: configuration validation decides
// whether the selected providers can run without it.
func LoadProviderSecrets(ctx context.Context, client ParameterGetter) {
	if err := LoadSecret(ctx, client, "GEMINI_API_KEY", "SSM_GEMINI_KEY_PARAM", DefaultGeminiKeyParam); err != nil {
		log.Warn().Err(err).Msg("Gemini API key not loaded, veo provider unavailable")
	}
	if err := LoadSecret(ctx, client, "HOLOSCENE_PROVIDER_API_KEY", "SSM_PROVIDER_KEY_PARAM", DefaultProviderKeyParam); err != nil {
		log.Warn().Err(err).Msg("Provider API key not loaded")
	}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}

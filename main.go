package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/config"
	"github.com/mahirjain10/image-variants/internal/addressing"
	"github.com/mahirjain10/image-variants/internal/aws"
	"github.com/mahirjain10/image-variants/internal/fetch"
	"github.com/mahirjain10/image-variants/internal/logger"
	"github.com/mahirjain10/image-variants/internal/pipeline"
	"github.com/mahirjain10/image-variants/internal/storage"
	"github.com/mahirjain10/image-variants/internal/transformation"
	"github.com/mahirjain10/image-variants/internal/utils"
)

type App struct {
	config    *config.Config
	log       *zap.Logger
	variants  config.Variants
	pipeline  *pipeline.Pipeline
	s3Service *aws.S3Service
	redis     *redis.Client
}

// NewApp loads configuration and wires every collaborator the commands
// share. The RabbitMQ connection is opened by the worker command only.
func NewApp(ctx context.Context, logLevel string) (*App, error) {
	envConfig, err := config.InitializeEnvs()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize environment config: %w", err)
	}
	if logLevel != "" {
		envConfig.LogLevel = logLevel
	}

	appLog, err := logger.New(envConfig.LogLevel, envConfig.AppEnv == "dev")
	if err != nil {
		return nil, err
	}

	variants, err := config.LoadVariants(envConfig.VariantsFile)
	if err != nil {
		return nil, err
	}
	variants = variants.Clamp(envConfig.MaxWidth, envConfig.MaxHeight)

	addresser, err := addressing.New(addressing.Options{
		Algorithm:      addressing.Algorithm(envConfig.HashAlgorithm),
		Mode:           addressing.Mode(envConfig.HashMode),
		Namespace:      envConfig.Namespace,
		CDNBaseURL:     envConfig.CDNBaseURL,
		Bucket:         envConfig.BucketName,
		ProviderDomain: envConfig.ProviderDomain,
		RawScheme:      envConfig.RawScheme,
		Region:         envConfig.StorageRegion,
		RegionAware:    envConfig.RegionAwareURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize addressing: %w", err)
	}

	app := &App{config: envConfig, log: appLog, variants: variants}

	var store storage.ObjectStore
	var s3Reader fetch.S3Reader
	switch envConfig.StorageBackend {
	case "memory":
		appLog.Warn("using in-memory object store, nothing is persisted")
		store = storage.NewMemoryStore()
	default:
		awsConfig, err := config.InitializeAws(ctx, envConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AWS config: %w", err)
		}
		s3Client := aws.NewS3Client(awsConfig, envConfig.StorageEndpoint)
		app.s3Service = aws.NewS3Service(s3Client, envConfig.BucketName, envConfig.NetworkTimeout, appLog)
		store = app.s3Service
		s3Reader = app.s3Service
	}

	policy := utils.DefaultRetryPolicy()
	policy.Attempts = envConfig.RetryAttempts
	policy.BaseDelay = envConfig.RetryBaseDelay
	policy.Timeout = envConfig.NetworkTimeout

	dedupOpts := []storage.Option{storage.WithLogger(appLog.Named("storage"))}
	if envConfig.RedisAddr != "" {
		client, err := storage.DialRedis(ctx, envConfig.RedisAddr)
		if err != nil {
			// the index only saves round trips, so run without it
			appLog.Warn("redis unavailable, dedup index disabled", zap.Error(err))
		} else {
			app.redis = client
			dedupOpts = append(dedupOpts, storage.WithIndex(storage.NewRedisIndex(client, "", envConfig.RedisIndexTTL)))
		}
	}
	dedup := storage.NewDedupStore(store, addresser, policy, dedupOpts...)

	var avifEncoder transformation.Encoder
	var intermediate transformation.IntermediateConverter
	ffmpeg := transformation.NewFFmpeg(envConfig.FFmpegPath, appLog.Named("ffmpeg"))
	if ffmpeg.Available() {
		avifEncoder, intermediate = ffmpeg, ffmpeg
	} else {
		appLog.Warn("ffmpeg not found, AVIF output and HEIC/AVIF sources are disabled", zap.String("path", envConfig.FFmpegPath))
	}

	fetcher := fetch.NewFetcher(&http.Client{}, s3Reader, policy, envConfig.MaxUploadBytes, appLog)
	app.pipeline = pipeline.New(
		fetcher,
		transformation.NewNative(avifEncoder, intermediate, appLog.Named("transcoder")),
		addresser,
		dedup,
		pipeline.Settings{
			ScratchRoot:    envConfig.ScratchDir,
			Parallelism:    envConfig.VariantParallelism,
			MaxUploadBytes: envConfig.MaxUploadBytes,
			AllowedMIME:    envConfig.IsAllowedMIME,
		},
		appLog,
	)
	return app, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("error closing redis client", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

var rootCmd = &cobra.Command{
	Use:   "image-variants",
	Short: "Transcode images into content-addressed, CDN-served variants",
	Long: `Derives named size/quality variants (thumbnail, preview, full, ...) from a
source image, stores each under a content hash so identical bytes are only
uploaded once, and reports the CDN, direct and raw URLs of every variant.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}

// newAppFromCmd builds the App for a command invocation.
func newAppFromCmd(cmd *cobra.Command) (*App, error) {
	level, _ := cmd.Flags().GetString("log-level")
	return NewApp(cmd.Context(), level)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("Error executing command: %v", err)
	}
}

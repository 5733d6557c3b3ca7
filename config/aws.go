package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// InitializeAws resolves credentials through the default chain (env, shared
// profile, instance role); only the region is taken from Config.
func InitializeAws(ctx context.Context, cfg *Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.StorageRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.StorageRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error while initializing aws: %w", err)
	}
	return awsCfg, nil
}

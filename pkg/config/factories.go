package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/content"
	contentMemory "github.com/mjmac/daosnfs/pkg/content/memory"
	contentS3 "github.com/mjmac/daosnfs/pkg/content/s3"
	"github.com/mjmac/daosnfs/pkg/daosfs"
	daosfsBadger "github.com/mjmac/daosnfs/pkg/daosfs/badger"
	daosfsMemory "github.com/mjmac/daosnfs/pkg/daosfs/memory"
	"github.com/mjmac/daosnfs/pkg/metrics"
)

// CreateContentStore creates a content store from configuration. The Type
// field selects the implementation; the matching options map is decoded and
// passed to its constructor.
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "memory":
		return contentMemory.New(), nil
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: memory, s3)", cfg.Type)
	}
}

// createS3ContentStore builds the AWS client and the S3-backed store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type s3StoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg s3StoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Custom endpoint support for MinIO, Localstack, and other
	// S3-compatible services.
	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if storeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := contentS3.New(ctx, contentS3.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// CreateConnector creates a storage connector from configuration, wiring
// the selected node-store backend to the given content store.
func CreateConnector(cfg *StorageConfig, contentStore content.Store, m metrics.StorageMetrics) (daosfs.Connector, error) {
	switch cfg.Type {
	case "memory":
		return daosfsMemory.NewConnector(contentStore), nil
	case "badger":
		return createBadgerConnector(cfg.Badger, contentStore, m)
	default:
		return nil, fmt.Errorf("unknown storage backend type: %q (supported: memory, badger)", cfg.Type)
	}
}

func createBadgerConnector(options map[string]any, contentStore content.Store, m metrics.StorageMetrics) (daosfs.Connector, error) {
	var storeCfg daosfsBadger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger storage config: %w", err)
	}
	if storeCfg.Dir == "" {
		return nil, fmt.Errorf("badger storage backend: dir is required")
	}
	return daosfsBadger.NewConnector(storeCfg, contentStore, m), nil
}

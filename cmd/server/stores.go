package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nammalwarsai/skill3-cie/internal/config"
	"github.com/nammalwarsai/skill3-cie/internal/database"
	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/logging"
	"github.com/nammalwarsai/skill3-cie/internal/store"
	"github.com/nammalwarsai/skill3-cie/internal/store/dynamo"
	"github.com/nammalwarsai/skill3-cie/internal/store/memstore"
	"github.com/nammalwarsai/skill3-cie/internal/store/mysqlstore"
	"github.com/nammalwarsai/skill3-cie/internal/store/s3blob"
)

// stores holds the opened backends. memBlobs is set only for the memory
// blob backend, whose links are served by this process.
type stores struct {
	records  store.RecordStore
	blobs    store.BlobStore
	memBlobs *memstore.Blobs
	db       *sql.DB
}

func (s *stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// loadConfig reads the dotenv file named by --env-file, then the
// environment, and builds the logger.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, nil).With().Str("env", cfg.Env).Logger()
	return cfg, log, nil
}

func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{}

	var awsCfg aws.Config
	if cfg.RecordBackend == config.BackendDynamo || cfg.BlobBackend == config.BackendS3 {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
		if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, "")))
		}
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	switch cfg.RecordBackend {
	case config.BackendDynamo:
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.AWSEndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			}
		})
		s.records = dynamo.NewRecords(client, cfg.PatientsTable)
		log.Info().Str("table", cfg.PatientsTable).Msg("record store: dynamodb")
	case config.BackendMySQL:
		db, err := database.Open(ctx, cfg.MySQLDSN(), database.Pool{
			MaxOpen:     cfg.DBMaxOpenConns,
			MaxIdle:     cfg.DBMaxIdleConns,
			MaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("mysql record store: %w", err)
		}
		recs := mysqlstore.NewRecords(db)
		if err := recs.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		s.db, s.records = db, recs
		log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("record store: mysql")
	case config.BackendMemory:
		s.records = memstore.NewRecords()
		log.Warn().Msg("record store: memory (accounts are lost on restart)")
	}

	switch cfg.BlobBackend {
	case config.BackendS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWSEndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			}
			o.UsePathStyle = cfg.S3PathStyle
		})
		s.blobs = s3blob.New(client, cfg.FilesBucket)
		log.Info().Str("bucket", cfg.FilesBucket).Msg("blob store: s3")
	case config.BackendMemory:
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			s.Close()
			return nil, err
		}
		s.memBlobs = memstore.NewBlobs(cfg.PublicURL+"/v1/blobs", secret)
		s.blobs = s.memBlobs
		log.Warn().Msg("blob store: memory (files are lost on restart)")
	}
	return s, nil
}

func newGateway(cfg config.Config, s *stores, log zerolog.Logger, opts ...gateway.Option) *gateway.Gateway {
	base := []gateway.Option{
		gateway.WithMaxUploadBytes(cfg.MaxUploadBytes),
		gateway.WithLinkTTL(cfg.LinkTTL),
		gateway.WithStoreTimeout(cfg.StoreTimeout),
		gateway.WithRetry(cfg.StoreRetries, cfg.StoreBackoff),
		gateway.WithBcryptCost(cfg.BcryptCost),
		gateway.WithLogger(log.With().Str("component", "gateway").Logger()),
	}
	return gateway.New(s.records, s.blobs, append(base, opts...)...)
}

// Package boot wires configuration into the long-lived components every
// entry point needs: the style catalog, the upload preprocessor, the model
// adapter and the optional download archiver.
//
// AWS config is loaded only when a component actually needs it (an SSM key
// parameter or an archive bucket), so local runs never touch AWS.
package boot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/archive"
	"github.com/fpang/pro-headshot/internal/auth"
	"github.com/fpang/pro-headshot/internal/config"
	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/logging"
	"github.com/fpang/pro-headshot/internal/metrics"
	"github.com/fpang/pro-headshot/internal/styles"
)

// Services holds the components built from a Config.
type Services struct {
	Config       *config.Config
	Catalog      *styles.Catalog
	Preprocessor *imageprep.Preprocessor
	Adapter      *gemini.Adapter
	// Archiver is nil when archiving is disabled.
	Archiver archive.Archiver
}

// awsLoader loads the default AWS config at most once.
type awsLoader struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = awsconfig.LoadDefaultConfig(ctx)
		if l.err == nil {
			log.Debug().Str("region", l.cfg.Region).Msg("AWS config loaded")
		}
	})
	return l.cfg, l.err
}

// Build constructs Services. The API key is not required here: a missing
// key surfaces as an invalid-key failure on the first generation.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	if cfg.Metrics.Enabled {
		metrics.SetOutput(os.Stdout)
	} else {
		metrics.SetOutput(nil)
	}

	catalog, err := styles.LoadFile(cfg.Styles.Path)
	if err != nil {
		return nil, err
	}

	loader := &awsLoader{}
	if cfg.SSM.APIKeyParam != "" {
		if err := loadAPIKey(ctx, loader, cfg.SSM.APIKeyParam); err != nil {
			return nil, err
		}
	}

	archiver, err := newArchiver(ctx, loader, cfg.Archive)
	if err != nil {
		return nil, err
	}

	prep := imageprep.New(imageprep.Options{
		MaxUploadMiB:  cfg.Upload.MaxMiB,
		MaxWidth:      cfg.Upload.MaxWidth,
		JPEGQuality:   cfg.Upload.JPEGQuality,
		MaxMegapixels: cfg.Upload.MaxMegapixels,
	})

	return &Services{
		Config:       cfg,
		Catalog:      catalog,
		Preprocessor: prep,
		Adapter:      gemini.NewAdapter(NewTransport(cfg.Gemini), cfg.Gemini.Model),
		Archiver:     archiver,
	}, nil
}

// NewTransport builds the configured Gemini transport. The key is resolved
// from the environment on every call.
func NewTransport(cfg config.GeminiConfig) gemini.Transport {
	if cfg.Transport == config.TransportSDK {
		return gemini.NewSDKTransport(auth.GetAPIKey, cfg.Timeout)
	}
	opts := []gemini.RESTOption{gemini.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	return gemini.NewRESTTransport(auth.GetAPIKey, opts...)
}

func loadAPIKey(ctx context.Context, loader *awsLoader, param string) error {
	if _, err := auth.GetAPIKey(); err == nil {
		return nil
	}
	awsCfg, err := loader.get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	_, err = auth.LoadAPIKeyFromSSM(ctx, ssm.NewFromConfig(awsCfg), param)
	return err
}

func newArchiver(ctx context.Context, loader *awsLoader, cfg config.ArchiveConfig) (archive.Archiver, error) {
	switch {
	case cfg.Bucket != "":
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return archive.NewS3Archiver(client, s3.NewPresignClient(client), cfg.Bucket, cfg.Prefix), nil
	case cfg.Dir != "":
		return archive.NewFileArchiver(cfg.Dir), nil
	default:
		return nil, nil
	}
}

// LogStartup emits the one-line startup summary for a binary.
func LogStartup(name, commitHash string, cfg *config.Config, started time.Time) {
	logging.NewStartupLogger(name).
		CommitHash(commitHash).
		S3Bucket("archive", cfg.Archive.Bucket).
		SSMParam("apiKey", cfg.SSM.APIKeyParam).
		Feature("mcp", cfg.Server.MCP).
		Feature("metrics", cfg.Metrics.Enabled).
		Feature("archive", cfg.ArchiveTarget() != "disabled").
		Config("model", cfg.Gemini.Model).
		Config("transport", cfg.Gemini.Transport).
		Config("archiveTarget", cfg.ArchiveTarget()).
		Config("maxUploadMiB", fmt.Sprint(cfg.Upload.MaxMiB)).
		Config("sessionTTL", cfg.Session.TTL.String()).
		InitDuration(time.Since(started)).
		Log()
}

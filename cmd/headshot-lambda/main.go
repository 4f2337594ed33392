// Package main serves the headshot API from AWS Lambda behind an API Gateway
// HTTP API (payload format 2.0).
//
// Lambda gives no affinity between requests and an execution environment,
// so the session routes are not mounted: the function serves health, styles,
// the one-shot /api/generate and /api/edit endpoints and MCP.
// Configuration comes from HEADSHOT_* environment variables; the Gemini key
// is read from SSM when HEADSHOT_SSM_API_KEY_PARAM is set.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/boot"
	"github.com/fpang/pro-headshot/internal/config"
	"github.com/fpang/pro-headshot/internal/logging"
	"github.com/fpang/pro-headshot/internal/server"
)

var commitHash = "dev"

func main() {
	started := time.Now()
	logging.Init()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	// CloudWatch picks EMF lines out of the function log stream.
	cfg.Metrics.Enabled = true

	ctx := context.Background()
	svc, err := boot.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	handler := server.New(server.Options{
		Catalog:      svc.Catalog,
		Preprocessor: svc.Preprocessor,
		Generator:    svc.Adapter,
		Archiver:     svc.Archiver,
		Model:        cfg.Gemini.Model,
		CORSOrigin:   cfg.Server.CORSOrigin,
		EnableMCP:    cfg.Server.MCP,
		Stateless:    true,
	}).Handler()

	boot.LogStartup("headshot-lambda", commitHash, cfg, started)

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

// Package auth resolves the generation service API key and classifies
// service errors into user-facing categories.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// Environment variables consulted for the API key, in priority order.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvAPIKey       = "API_KEY"
)

// ErrNoAPIKey is returned when no key source is configured.
var ErrNoAPIKey = errors.New("API key not found. Set GEMINI_API_KEY or configure ssm.api_key_param")

// GetAPIKey retrieves the API key from the environment.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. API_KEY environment variable
func GetAPIKey() (string, error) {
	for _, name := range []string{EnvGeminiAPIKey, EnvAPIKey} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			log.Debug().Str("source", name).Msg("Using API key from environment variable")
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

// ParameterGetter is the subset of the SSM client used to fetch the key.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadAPIKeyFromSSM fetches the API key from SSM Parameter Store unless one
// is already present in the environment. On success the key is exported as
// GEMINI_API_KEY so later GetAPIKey calls see it.
func LoadAPIKeyFromSSM(ctx context.Context, client ParameterGetter, paramName string) (string, error) {
	if key, err := GetAPIKey(); err == nil {
		return key, nil
	}
	if paramName == "" {
		return "", ErrNoAPIKey
	}

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read API key from SSM parameter %s: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}

	key := aws.ToString(result.Parameter.Value)
	if err := os.Setenv(EnvGeminiAPIKey, key); err != nil {
		return "", fmt.Errorf("failed to export API key: %w", err)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("API key loaded from SSM")
	return key, nil
}

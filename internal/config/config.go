package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds all configuration for the docport server.
type Config struct {
	Port    int    // admin API port
	APIKey  string // empty disables auth (development mode)
	DataDir string // SQLite database location
	LogLevel string

	// Auth
	JWTSecret string // secret for instance-scoped log tokens

	// NATS event stream (optional)
	NATSURL string

	// Launch behavior
	StartupTimeoutSec int // bound on fail-fast startup verification
	StopGraceSec      int // grace period before SIGKILL on stop

	// S3-compatible object storage for build log archives (optional)
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool // true for R2/MinIO

	// Remote registry for image pushes (optional)
	Registry           string
	RegistryRepository string
	RegistryUsername   string
	RegistryPassword   string

	// AWS Secrets Manager. If set, secrets are fetched at startup using IAM
	// credentials. The secret should be a JSON object with keys matching env
	// var names (e.g. DOCPORT_JWT_SECRET). Env vars take precedence.
	SecretsARN string
}

// Load reads configuration from environment variables with sensible defaults.
// If DOCPORT_SECRETS_ARN is set, secrets are fetched from AWS Secrets Manager
// first, then environment variables are applied on top.
func Load() (*Config, error) {
	if arn := os.Getenv("DOCPORT_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		Port:     8080,
		APIKey:   os.Getenv("DOCPORT_API_KEY"),
		DataDir:  envOrDefault("DOCPORT_DATA_DIR", "/var/lib/docport"),
		LogLevel: envOrDefault("DOCPORT_LOG_LEVEL", "info"),

		JWTSecret: os.Getenv("DOCPORT_JWT_SECRET"),
		NATSURL:   os.Getenv("DOCPORT_NATS_URL"),

		StartupTimeoutSec: envOrDefaultInt("DOCPORT_STARTUP_TIMEOUT_SEC", 15),
		StopGraceSec:      envOrDefaultInt("DOCPORT_STOP_GRACE_SEC", 10),

		S3Endpoint:        os.Getenv("DOCPORT_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("DOCPORT_S3_BUCKET"),
		S3Region:          envOrDefault("DOCPORT_S3_REGION", "us-east-1"),
		S3AccessKeyID:     os.Getenv("DOCPORT_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("DOCPORT_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("DOCPORT_S3_FORCE_PATH_STYLE") == "true",

		Registry:           os.Getenv("DOCPORT_REGISTRY"),
		RegistryRepository: envOrDefault("DOCPORT_REGISTRY_REPOSITORY", "docport-images"),
		RegistryUsername:   os.Getenv("DOCPORT_REGISTRY_USERNAME"),
		RegistryPassword:   os.Getenv("DOCPORT_REGISTRY_PASSWORD"),

		SecretsARN: os.Getenv("DOCPORT_SECRETS_ARN"),
	}

	if portStr := os.Getenv("DOCPORT_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DOCPORT_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (env overrides take precedence)", applied)
	return nil
}

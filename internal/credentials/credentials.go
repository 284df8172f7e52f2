// Package credentials resolves AWS credentials from the credential/rule
// store once at startup and turns them into an SDK configuration.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"lambdabridge/internal/apperrors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
)

// Store keys holding the credentials.
const (
	KeyAccessKey = "aws_access_key"
	KeySecretKey = "aws_secret_key"
	KeyRegion    = "aws_region"
)

// Getter reads a value from the credential/rule store.
type Getter interface {
	Get(ctx context.Context, key string) (string, error)
}

// Putter writes a value to the credential/rule store.
type Putter interface {
	Put(ctx context.Context, key, value string) error
}

// AWS is an immutable set of static credentials. Pass it by value.
type AWS struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Load reads all three credential keys. A missing key is a configuration
// error so the process refuses to start.
func Load(ctx context.Context, store Getter) (AWS, error) {
	var creds AWS
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyAccessKey, &creds.AccessKeyID},
		{KeySecretKey, &creds.SecretAccessKey},
		{KeyRegion, &creds.Region},
	} {
		v, err := store.Get(ctx, f.key)
		if errors.Is(err, apperrors.ErrNotFound) || (err == nil && strings.TrimSpace(v) == "") {
			return AWS{}, apperrors.Config(f.key, fmt.Sprintf("%s is not set in the store (use bridgectl credentials)", f.key))
		}
		if err != nil {
			return AWS{}, err
		}
		*f.dst = strings.TrimSpace(v)
	}
	return creds, nil
}

// Save writes the credentials to the store.
func Save(ctx context.Context, store Putter, creds AWS) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" || creds.Region == "" {
		return apperrors.Config("credentials", "access key, secret key and region are all required")
	}
	for key, value := range map[string]string{
		KeyAccessKey: creds.AccessKeyID,
		KeySecretKey: creds.SecretAccessKey,
		KeyRegion:    creds.Region,
	} {
		if err := store.Put(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// LogValue keeps the secret out of logs.
func (a AWS) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("accessKeyId", mask(a.AccessKeyID)),
		slog.String("region", a.Region),
	)
}

// Config builds an SDK configuration using these static credentials.
// endpoint overrides the service endpoint (LocalStack and similar); empty
// keeps the regional default.
func (a AWS) Config(ctx context.Context, endpoint string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.Region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, "")),
	}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

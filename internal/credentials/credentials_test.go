package credentials

import (
	"bytes"
	"context"
	"errors"
	"lambdabridge/internal/apperrors"
	"log/slog"
	"strings"
	"testing"
)

type mapStore map[string]string

func (m mapStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", apperrors.NotFound("key", key)
	}
	return v, nil
}

func (m mapStore) Put(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", apperrors.Store("sqlite.Get", errors.New("database is locked"))
}

func TestLoad(t *testing.T) {
	t.Parallel()
	store := mapStore{KeyAccessKey: "AKIAEXAMPLE", KeySecretKey: " secret\n", KeyRegion: "eu-west-1"}

	creds, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := AWS{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret", Region: "eu-west-1"}
	if creds != want {
		t.Errorf("Load = %+v, want %+v", creds, want)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	tests := map[string]mapStore{
		"no region":    {KeyAccessKey: "a", KeySecretKey: "s"},
		"blank secret": {KeyAccessKey: "a", KeySecretKey: "  ", KeyRegion: "r"},
		"empty store":  {},
	}
	for name, store := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(context.Background(), store); !errors.Is(err, apperrors.ErrConfig) {
				t.Errorf("Load error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoad_StoreError(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), brokenStore{})
	if !errors.Is(err, apperrors.ErrStore) {
		t.Errorf("Load error = %v, want ErrStore", err)
	}
}

func TestSave(t *testing.T) {
	t.Parallel()
	store := mapStore{}
	creds := AWS{AccessKeyID: "a", SecretAccessKey: "s", Region: "r"}
	if err := Save(context.Background(), store, creds); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(context.Background(), store)
	if err != nil || got != creds {
		t.Errorf("Load after Save = %+v, %v", got, err)
	}
	if err := Save(context.Background(), store, AWS{AccessKeyID: "a"}); !errors.Is(err, apperrors.ErrConfig) {
		t.Errorf("Save incomplete = %v, want ErrConfig", err)
	}
}

func TestLogValue_HidesSecret(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("loaded", "aws", AWS{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "topsecret", Region: "us-east-1"})

	out := buf.String()
	if strings.Contains(out, "topsecret") || strings.Contains(out, "AKIAEXAMPLE") {
		t.Errorf("credentials leaked into log: %s", out)
	}
	if !strings.Contains(out, "AKIA*******") || !strings.Contains(out, "us-east-1") {
		t.Errorf("expected masked key and region in log: %s", out)
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()
	creds := AWS{AccessKeyID: "a", SecretAccessKey: "s", Region: "ap-south-1"}
	cfg, err := creds.Config(context.Background(), "http://localhost:4566")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Region != "ap-south-1" {
		t.Errorf("Region = %q", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Errorf("BaseEndpoint = %v", cfg.BaseEndpoint)
	}
	v, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if v.AccessKeyID != "a" || v.SecretAccessKey != "s" {
		t.Errorf("credentials = %+v", v)
	}
}

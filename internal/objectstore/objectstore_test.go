package objectstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "exports",
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"scheme in endpoint", func(c *Config) { c.Endpoint = "http://localhost:9000" }, "scheme"},
		{"missing endpoint", func(c *Config) { c.Endpoint = " " }, "endpoint"},
		{"missing access key", func(c *Config) { c.AccessKey = "" }, "access key"},
		{"missing secret key", func(c *Config) { c.SecretKey = "" }, "secret key"},
		{"missing region", func(c *Config) { c.Region = "" }, "region"},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewMinioSink_RejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoint = "https://minio.internal"
	_, err := NewMinioSink(cfg)
	assert.Error(t, err)
}

func TestPresignGet_IsOffline(t *testing.T) {
	// Presigning with an explicit region is computed locally.
	sink, err := NewMinioSink(validConfig())
	require.NoError(t, err)

	link, err := sink.PresignGet(context.Background(), ArtifactKey("abc"), 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.True(t, strings.HasSuffix(u.Path, "/exports/runs/abc/results.csv"), u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "runs/123/results.csv", ArtifactKey("123"))
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPath(t *testing.T) {
	tests := []struct {
		arg, bucket, path string
	}{
		{"my-bucket", "my-bucket", "my-bucket"},
		{"my-bucket/", "my-bucket", "my-bucket"},
		{"my-bucket/logs", "my-bucket", "my-bucket/logs/"},
		{"s3://my-bucket/logs/2025/", "my-bucket", "my-bucket/logs/2025/"},
		{"/my-bucket//a//", "my-bucket", "my-bucket/a/"},
		{"", "", ""},
	}
	for _, tt := range tests {
		bucket, path := startPath(tt.arg)
		assert.Equal(t, tt.bucket, bucket, tt.arg)
		assert.Equal(t, tt.path, path, tt.arg)
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".s3cfg")
	require.NoError(t, os.WriteFile(path, []byte(`[default]
access_key = a
secret_key = b
host_base = localhost:9000
host_bucket = localhost:9000/%(bucket)s
use_https = False
bucket_location = us-west-2

[s4]
aggregate_concurrency = 2
log_level = warn
`), 0o600))

	require.NoError(t, rootCmd.ParseFlags([]string{
		"--config", path,
		"--concurrency", "6",
		"--batch-size", "5000",
	}))
	t.Cleanup(func() {
		configPath, concurrency, batchSize = "", 0, 0
		for _, name := range []string{"config", "concurrency", "batch-size"} {
			rootCmd.Flags().Lookup(name).Changed = false
		}
	})

	opts, settings, err := resolve(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", opts.Endpoint)
	assert.True(t, opts.PathStyle)
	assert.Equal(t, "us-west-2", opts.Region, "file region kept when --region is not given")
	assert.Equal(t, 6, settings.AggregateConcurrency)
	assert.Equal(t, 1000, settings.DeleteBatchSize)
	assert.Equal(t, "warn", settings.LogLevel)
}

func TestResolveFallsBackToDefaultChain(t *testing.T) {
	if _, err := os.Stat("/etc/s3cfg"); err == nil {
		t.Skip("system configuration present")
	}
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var out bytes.Buffer
	setupIn, setupOut = strings.NewReader("n\n"), &out
	t.Cleanup(func() { setupIn, setupOut = os.Stdin, os.Stdout })

	opts, settings, err := resolve(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, defaultRegion, opts.Region)
	assert.Empty(t, opts.AccessKey)
	assert.Empty(t, opts.Profile)
	assert.Empty(t, opts.Endpoint)
	assert.Equal(t, settings.PageSize, opts.PageSize)
	assert.Contains(t, out.String(), "default AWS credential chain")
}

// Package config reads the s3cmd-compatible .s3cfg file plus the navigator's
// own [s4] tuning section.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/slmtnm/s4/internal/store"
)

// ErrNotFound is returned when no configuration file exists.
var ErrNotFound = errors.New(".s3cfg file not found in any of the standard locations")

const defaultHostBase = "s3.amazonaws.com"

// S3Config holds the S3 configuration parsed from .s3cfg
type S3Config struct {
	AccessKey   string
	SecretKey   string
	HostBase    string
	HostBucket  string
	UseHTTPS    bool
	SignatureV2 bool
	Region      string
}

// Settings tunes the tree cache and its background work.
type Settings struct {
	AggregateConcurrency int
	DeleteBatchSize      int
	ListWorkers          int
	PageSize             int
	RetryAttempts        int
	LogLevel             string
	LogFile              string
}

// DefaultSettings returns the settings used when [s4] is absent.
func DefaultSettings() Settings {
	return Settings{
		AggregateConcurrency: 4,
		DeleteBatchSize:      1000,
		ListWorkers:          8,
		PageSize:             1000,
		RetryAttempts:        4,
		LogLevel:             "info",
	}
}

// Config is a loaded configuration file.
type Config struct {
	Path string
	// S3 is nil when the file carries no credentials; the AWS default chain
	// or a named profile is used instead.
	S3       *S3Config
	Settings Settings
}

// SearchPaths lists the locations probed for .s3cfg, in order.
func SearchPaths() []string {
	return []string{
		".s3cfg",
		filepath.Join(os.Getenv("HOME"), ".s3cfg"),
		"/etc/s3cfg",
	}
}

// Find returns the first existing configuration file.
func Find() (string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// Load reads the configuration at path, or the first one found by Find when
// path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = Find(); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load .s3cfg: %w", err)
	}

	cfg := &Config{Path: path, Settings: parseSettings(file.Section("s4"))}

	section := file.Section("default")
	s3cfg := &S3Config{
		AccessKey:   section.Key("access_key").String(),
		SecretKey:   section.Key("secret_key").String(),
		HostBase:    section.Key("host_base").MustString(defaultHostBase),
		HostBucket:  section.Key("host_bucket").MustString("%(bucket)s.s3.amazonaws.com"),
		UseHTTPS:    section.Key("use_https").MustBool(true),
		SignatureV2: section.Key("signature_v2").MustBool(false),
		Region:      section.Key("bucket_location").MustString("us-east-1"),
	}
	switch {
	case s3cfg.AccessKey == "" && s3cfg.SecretKey == "":
	case s3cfg.AccessKey == "" || s3cfg.SecretKey == "":
		return nil, fmt.Errorf("access_key and secret_key must be specified in %s", path)
	default:
		cfg.S3 = s3cfg
	}
	return cfg, nil
}

func parseSettings(section *ini.Section) Settings {
	def := DefaultSettings()
	s := Settings{
		AggregateConcurrency: section.Key("aggregate_concurrency").MustInt(def.AggregateConcurrency),
		DeleteBatchSize:      section.Key("delete_batch_size").MustInt(def.DeleteBatchSize),
		ListWorkers:          section.Key("list_workers").MustInt(def.ListWorkers),
		PageSize:             section.Key("page_size").MustInt(def.PageSize),
		RetryAttempts:        section.Key("retry_attempts").MustInt(def.RetryAttempts),
		LogLevel:             section.Key("log_level").MustString(def.LogLevel),
		LogFile:              section.Key("log_file").String(),
	}
	return s.withDefaults()
}

// withDefaults replaces out-of-range values.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.AggregateConcurrency <= 0 {
		s.AggregateConcurrency = def.AggregateConcurrency
	}
	if s.DeleteBatchSize <= 0 || s.DeleteBatchSize > def.DeleteBatchSize {
		s.DeleteBatchSize = def.DeleteBatchSize
	}
	if s.ListWorkers <= 0 {
		s.ListWorkers = def.ListWorkers
	}
	if s.PageSize <= 0 || s.PageSize > def.PageSize {
		s.PageSize = def.PageSize
	}
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = def.RetryAttempts
	}
	return s
}

// GetEndpointURL returns the endpoint URL for the S3 service
func (c *S3Config) GetEndpointURL() string {
	protocol := "https"
	if !c.UseHTTPS {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s", protocol, c.HostBase)
}

// Options converts the file settings into store options. AWS itself needs
// no endpoint override; anything else is addressed path-style unless
// host_bucket uses a virtual-host template.
func (c *S3Config) Options(pageSize int) store.S3Options {
	opts := store.S3Options{
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		PageSize:  pageSize,
	}
	if c.HostBase != defaultHostBase {
		opts.Endpoint = c.GetEndpointURL()
		opts.PathStyle = !strings.HasPrefix(c.HostBucket, "%(bucket)s.")
	}
	return opts
}

// InteractiveS3Setup walks the user through creating a .s3cfg. It reads
// answers from in, writes prompts to out, and returns the saved
// configuration and the path it was written to.
func InteractiveS3Setup(in io.Reader, out io.Writer) (*S3Config, string, error) {
	scanner := bufio.NewScanner(in)
	ask := func(prompt, what string) (string, error) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return "", fmt.Errorf("failed to read %s", what)
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	fmt.Fprintln(out, "🔧 S4 Interactive Setup")
	fmt.Fprintln(out, "========================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "No .s3cfg configuration file found.")
	fmt.Fprintln(out, "Would you like to create one interactively? (y/N)")

	response, err := ask("> ", "input")
	if err != nil {
		return nil, "", err
	}
	response = strings.ToLower(response)
	if response != "y" && response != "yes" {
		return nil, "", fmt.Errorf("setup declined by user")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Common configurations:")
	fmt.Fprintln(out, "  • AWS S3: Use your AWS credentials and s3.amazonaws.com")
	fmt.Fprintln(out, "  • MinIO local: Use minioadmin/minioadmin123 and localhost:9000")
	fmt.Fprintln(out, "  • Other S3-compatible: Use your service's endpoint and credentials")
	fmt.Fprintln(out)

	config := &S3Config{}
	if config.AccessKey, err = ask("Access Key ID: ", "access key"); err != nil {
		return nil, "", err
	}
	if config.AccessKey == "" {
		return nil, "", fmt.Errorf("access key cannot be empty")
	}
	if config.SecretKey, err = ask("Secret Access Key: ", "secret key"); err != nil {
		return nil, "", err
	}
	if config.SecretKey == "" {
		return nil, "", fmt.Errorf("secret key cannot be empty")
	}

	if config.HostBase, err = ask("S3 Endpoint (default: s3.amazonaws.com): ", "endpoint"); err != nil {
		return nil, "", err
	}
	if config.HostBase == "" {
		config.HostBase = defaultHostBase
	}
	if config.HostBase == defaultHostBase {
		config.HostBucket = "%(bucket)s.s3.amazonaws.com"
	} else {
		config.HostBucket = config.HostBase + "/%(bucket)s"
	}

	if config.Region, err = ask("Region (default: us-east-1): ", "region"); err != nil {
		return nil, "", err
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	config.UseHTTPS = !strings.Contains(config.HostBase, "localhost") && !strings.Contains(config.HostBase, "127.0.0.1")

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration summary:\n")
	fmt.Fprintf(out, "  Endpoint: %s\n", config.GetEndpointURL())
	fmt.Fprintf(out, "  Region: %s\n", config.Region)
	fmt.Fprintf(out, "  HTTPS: %t\n", config.UseHTTPS)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Where would you like to save this configuration?")
	fmt.Fprintln(out, "1. Current directory (.s3cfg)")
	fmt.Fprintln(out, "2. Home directory (~/.s3cfg)")
	choice, err := ask("Choice (1-2, default: 2): ", "save location")
	if err != nil {
		return nil, "", err
	}

	var configPath string
	switch choice {
	case "1":
		configPath = ".s3cfg"
	case "", "2":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".s3cfg")
	default:
		return nil, "", fmt.Errorf("invalid choice")
	}

	if err := Save(config, configPath); err != nil {
		return nil, "", fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\n✅ Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "You can now use S4 to browse your S3 buckets!")
	fmt.Fprintln(out)
	return config, configPath, nil
}

// Save writes config to path in s3cmd format.
func Save(config *S3Config, path string) error {
	cfg := ini.Empty()
	section := cfg.Section("default")

	section.Key("access_key").SetValue(config.AccessKey)
	section.Key("secret_key").SetValue(config.SecretKey)
	section.Key("host_base").SetValue(config.HostBase)
	section.Key("host_bucket").SetValue(config.HostBucket)
	section.Key("use_https").SetValue(pyBool(config.UseHTTPS))
	section.Key("signature_v2").SetValue(pyBool(config.SignatureV2))
	section.Key("bucket_location").SetValue(config.Region)

	return cfg.SaveTo(path)
}

// s3cmd writes booleans Python style.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

package config

import (
	"fmt"
	"net/url"
	"slices"
)

// validSSLModes are the sslmode values libpq and pgx accept.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	if c.APIKey == "" {
		return fmt.Errorf("%w: KESTREL_API_KEY environment variable is required", ErrMissingAPIKey)
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("%w: api_base_url cannot be empty", ErrInvalidAPIBaseURL)
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidAPIBaseURL, c.APIBaseURL)
	}

	// 2. Run polling validation. The ceiling keeps one stuck run from
	// pinning a worker forever; the floor keeps the loop from hammering
	// the provider.
	if c.PollIntervalMS < 100 || c.PollIntervalMS > 60_000 {
		return fmt.Errorf("%w: must be between 100 and 60000 ms, got %d", ErrInvalidPollInterval, c.PollIntervalMS)
	}
	if c.MaxPolls < 1 || c.MaxPolls > 10_000 {
		return fmt.Errorf("%w: must be between 1 and 10000, got %d", ErrInvalidMaxPolls, c.MaxPolls)
	}

	// 3. PostgreSQL validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: must be one of %v, got %q", ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	// 4. Blob store validation
	if c.BlobEndpoint == "" {
		return fmt.Errorf("%w: blob_endpoint cannot be empty", ErrInvalidBlobEndpoint)
	}
	if c.BlobBucket == "" {
		return fmt.Errorf("%w: blob_bucket cannot be empty", ErrInvalidBlobBucket)
	}
	if c.BlobAccessKey == "" || c.BlobSecretKey == "" {
		return fmt.Errorf("%w: KESTREL_BLOB_ACCESS_KEY and KESTREL_BLOB_SECRET_KEY are required", ErrMissingBlobCredentials)
	}

	return nil
}

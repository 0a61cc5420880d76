package filestore

import (
	"time"

	"github.com/koustreak/bacanora/internal/config"
)

// Provider identifies the file service backend.
type Provider string

const (
	ProviderTapis Provider = "tapis"
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to connect to a file service.
type Config struct {
	Provider Provider

	// BaseURL is the Tapis API server, e.g. "https://api.sd2e.org".
	BaseURL string
	// Token is the bearer access token.
	Token string
	// Username is the account the token belongs to.
	Username string
	// Timeout bounds each HTTP request. Zero means no client timeout.
	Timeout time.Duration

	// Endpoint is the host:port of an S3-compatible server.
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// FromConfig selects a provider from the process configuration: Tapis when
// a base URL is set, otherwise S3 when an endpoint is set. ok is false when
// neither is configured.
func FromConfig(cfg config.Config) (c Config, ok bool) {
	switch {
	case cfg.Tapis.BaseURL != "":
		return Config{
			Provider: ProviderTapis,
			BaseURL:  cfg.Tapis.BaseURL,
			Token:    cfg.Tapis.Token,
			Username: cfg.Tapis.Username,
			Timeout:  cfg.Tapis.Timeout,
		}, true
	case cfg.S3.Endpoint != "":
		return Config{
			Provider:  ProviderMinIO,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Region:    cfg.S3.Region,
		}, true
	}
	return Config{}, false
}

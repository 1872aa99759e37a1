package enode

import (
	"fmt"
	"net/url"
)

// Config holds the Enode API credentials and endpoints.
type Config struct {
	ClientID        string  `json:"client_id"`
	ClientSecret    string  `json:"client_secret"`
	APIURL          string  `json:"api_url"`
	OAuthURL        string  `json:"oauth_url"`
	LinkRedirectURI string  `json:"link_redirect_uri"`
	RateLimit       float64 `json:"rate_limit"`
	Burst           int     `json:"burst"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("enode: client_id and client_secret are required")
	}
	for name, raw := range map[string]string{"api_url": c.APIURL, "oauth_url": c.OAuthURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("enode: invalid %s %q", name, raw)
		}
	}
	return nil
}

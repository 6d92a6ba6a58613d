package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures the client-credentials grant for outbound calls
// to the marketplace index consulted by the search-install flow (§4.5's
// "expansion"): gateway.New fills it from config.MarketplaceConfig's
// OAuth2 fields. It does not validate inbound tokens, and
// config.AuthConfig's own OAuth2 fields are not read by it.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewHTTPClient returns an *http.Client that attaches a client-credentials
// access token to every outbound request, refreshing it automatically as
// it nears expiry. Returns http.DefaultClient unchanged if TokenURL is
// unset, so callers can wire this unconditionally and get plain HTTP when
// oauth2 is not configured.
func NewHTTPClient(ctx context.Context, cfg OAuth2Config) *http.Client {
	if cfg.TokenURL == "" {
		return http.DefaultClient
	}
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return ccCfg.Client(ctx)
}

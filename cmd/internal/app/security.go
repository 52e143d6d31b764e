package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Aaliyah097/bochat/cmd/internal/auth"
)

// ValidateSecurityConfig enforces the startup security policy.
// A misconfigured deployment refuses to start rather than run with weaker checks.
func ValidateSecurityConfig(cfg Config) error {
	key := strings.TrimSpace(cfg.AuthPublicKeyHex)

	if cfg.AuthRequired && key == "" {
		return errors.New("security policy: BOCHAT_AUTH_REQUIRED=true but BOCHAT_AUTH_PASETO_PUBLIC_KEY_HEX is missing")
	}
	if key != "" {
		if strings.TrimSpace(cfg.AuthIssuer) == "" {
			return errors.New("security policy: BOCHAT_AUTH_ISSUER must not be empty when a PASETO key is configured")
		}
		if _, err := auth.NewPasetoVerifier(key, cfg.AuthIssuer, cfg.AuthClockSkew); err != nil {
			return fmt.Errorf("security policy: BOCHAT_AUTH_PASETO_PUBLIC_KEY_HEX: %w", err)
		}
	}

	if cfg.WSOriginRequired && len(cfg.WSAllowedOrigins) == 0 {
		return errors.New("security policy: BOCHAT_WS_ORIGIN_REQUIRED=true but BOCHAT_WS_ALLOWED_ORIGINS is empty")
	}
	if cfg.CORSAllowCredentials && slices.Contains(cfg.CORSAllowedOrigins, "*") {
		return errors.New("security policy: BOCHAT_CORS_ALLOW_CREDENTIALS=true cannot be combined with a wildcard origin")
	}
	return nil
}

// newAuthenticator returns the PASETO verifier, or AllowAll when no key is configured.
func newAuthenticator(cfg Config, log Logger) (auth.Authenticator, error) {
	key := strings.TrimSpace(cfg.AuthPublicKeyHex)
	if key == "" {
		log.Warn("auth.disabled.allow_all")
		return auth.AllowAll{}, nil
	}
	return auth.NewPasetoVerifier(key, cfg.AuthIssuer, cfg.AuthClockSkew)
}

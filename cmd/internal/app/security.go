package app

import (
	"errors"
	"fmt"

	"warden/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
// Fail-fast: a weaker fallback is never selected silently.
func ValidateSecurityConfig(cfg Config) error {
	h, err := token.NewHasher(cfg.TokenHMACKey, cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: %sREQUIRE_TOKEN_HMAC=true but %sTOKEN_HMAC_KEY is missing", EnvPrefix, EnvPrefix)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: %sREQUIRE_TOKEN_HMAC=true but %sTOKEN_HMAC_KEY is too short (min %d bytes)", EnvPrefix, EnvPrefix, token.MinHMACKeyBytes)
		default:
			return err
		}
	}

	// Guards against a future change reintroducing a SHA fallback under policy.
	if cfg.RequireTokenHMAC && !h.HMAC() {
		return fmt.Errorf("security policy: %sREQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode", EnvPrefix)
	}
	return nil
}

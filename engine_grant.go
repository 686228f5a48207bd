package authguard

import (
	"fmt"

	"github.com/storefront/authguard/grant"
)

// GrantClaims is the payload of a verification grant.
type GrantClaims = grant.Claims

// ParseGrant verifies a grant minted by [Engine.VerifyOTP] and returns its
// claims. Downstream handlers use it to confirm that a user completed a
// passcode check for a purpose.
func (e *Engine) ParseGrant(token string) (*GrantClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.grants == nil {
		return nil, ErrGrantDisabled
	}
	claims, err := e.grants.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGrantInvalid, err)
	}
	return claims, nil
}

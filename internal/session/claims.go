// Package session mints and validates the tool's own bearer tokens.
// A launch that validates is exchanged for a session token; everything
// after the launch authenticates with that token only.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classbridge/classbridge-tool/internal/launch"
)

// Claims is the payload of a tool session token. Subject, issuer,
// audience and lifetime live in the embedded registered claims.
type Claims struct {
	RegistrationID string   `json:"registration_id"`
	DeploymentID   string   `json:"deployment_id,omitempty"`
	ContextID      string   `json:"context_id"`
	ResourceLinkID string   `json:"resource_link_id,omitempty"`
	Roles          []string `json:"roles"`

	// Launch linkage. Nonce ties the token back to the launch that
	// produced it; OneUse marks tokens that may authenticate exactly once.
	Nonce  string `json:"nonce,omitempty"`
	OneUse bool   `json:"one_use,omitempty"`

	// Platform service endpoints captured at launch time.
	LineItemsURL string   `json:"lineitems,omitempty"`
	AGSScopes    []string `json:"ags_scopes,omitempty"`
	NRPSURL      string   `json:"nrps,omitempty"`

	// Deep linking round trip, set only for deep-link launches.
	DeepLinkReturnURL string `json:"dl_return,omitempty"`
	DeepLinkData      string `json:"dl_data,omitempty"`

	// Assignment window, when the platform passed one through custom
	// launch variables.
	DueAt    *jwt.NumericDate `json:"due_at,omitempty"`
	LockAt   *jwt.NumericDate `json:"lock_at,omitempty"`
	UnlockAt *jwt.NumericDate `json:"unlock_at,omitempty"`

	jwt.RegisteredClaims
}

// claimsFromLaunch lifts a validated launch context into session claims.
// Registered claims (issuer, audience, times, jti) are filled by Mint.
func claimsFromLaunch(lc *launch.Context) Claims {
	c := Claims{
		RegistrationID:    lc.Registration.ID,
		DeploymentID:      lc.DeploymentID,
		ContextID:         lc.ContextID,
		ResourceLinkID:    lc.ResourceLinkID,
		Roles:             lc.Roles,
		Nonce:             lc.Nonce,
		LineItemsURL:      lc.LineItemsURL,
		AGSScopes:         lc.AGSScopes,
		NRPSURL:           lc.NRPSURL,
		DeepLinkReturnURL: lc.DeepLinkReturnURL,
		DeepLinkData:      lc.DeepLinkData,
	}
	c.DueAt = customTime(lc.Custom, "due_at")
	c.LockAt = customTime(lc.Custom, "lock_at")
	c.UnlockAt = customTime(lc.Custom, "unlock_at")
	return c
}

// customTime reads an RFC 3339 timestamp out of the custom claim map.
// Absent or unparseable values are dropped rather than failing a launch.
func customTime(custom map[string]string, key string) *jwt.NumericDate {
	raw, ok := custom[key]
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return jwt.NewNumericDate(t)
}

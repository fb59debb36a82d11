// Package registry resolves registered launch platforms. A platform is
// trusted only when the (issuer, client_id, deployment_id) triple matches
// exactly one registration; zero or multiple matches is a configuration
// fault and fails the launch.
package registry

import (
	"context"
	"errors"
)

// ErrUnknownPlatform signals a missing or ambiguous registration match.
// Fatal for the launch; never retried.
var ErrUnknownPlatform = errors.New("registry: unknown platform")

// Registration describes one trusted launch partner.
type Registration struct {
	ID            string
	Issuer        string // platform issuer URL
	ClientID      string // client id the platform uses for this tool
	ClientSecret  string // token-endpoint secret for AGS/NRPS calls; may be empty
	DeploymentID  string
	AuthEndpoint  string // OIDC authorization endpoint
	JWKSEndpoint  string // optional; empty means keys are stored locally
	TokenEndpoint string
	TokenAudience string // optional override for the token-endpoint audience
	TenantRef     string // opaque tenant-linking identifier
}

// Store is the lookup interface consumed by the launch path. Registrations
// are created by the admin surface; the launch path only reads.
type Store interface {
	// FindByIssuerClient matches on issuer+client_id only (deployment id is
	// not yet known at login initiation). Zero or multiple matches return
	// ErrUnknownPlatform.
	FindByIssuerClient(ctx context.Context, issuer, clientID string) (Registration, error)

	// FindByIssuerClientDeployment matches the full triple with the same
	// exactly-one semantics.
	FindByIssuerClientDeployment(ctx context.Context, issuer, clientID, deploymentID string) (Registration, error)

	Get(ctx context.Context, id string) (Registration, error)
	Create(ctx context.Context, reg Registration) error
	List(ctx context.Context, offset, limit int) ([]Registration, error)
	Delete(ctx context.Context, id string) error
}

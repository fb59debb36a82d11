// Package launch implements the OIDC login initiation and launch
// validation flow between a platform and this tool.
package launch

import (
	"context"

	"github.com/classbridge/classbridge-tool/internal/registry"
)

// IMS claim URIs present in a platform id_token.
const (
	ClaimMessageType    = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion        = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID   = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI  = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimContext        = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink   = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimRoles          = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom         = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ClaimAGSEndpoint    = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
	ClaimNRPS           = "https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice"
	ClaimDeepLinking    = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"

	MessageTypeResourceLink = "LtiResourceLinkRequest"
	MessageTypeDeepLink     = "LtiDeepLinkingRequest"
)

// Context is the validated result of one launch. Built once per request
// from verified claims and discarded after the session token is minted.
type Context struct {
	Issuer       string
	Audience     string
	DeploymentID string
	MessageType  string
	Version      string

	Registration registry.Registration
	Nonce        string

	Subject        string
	Roles          []string
	ContextID      string
	ContextLabel   string
	ContextTitle   string
	ResourceLinkID string
	TargetLinkURI  string

	// Service endpoints advertised by the platform.
	LineItemsURL string
	AGSScopes    []string
	NRPSURL      string

	// Deep linking request settings (empty unless MessageType is deep link).
	DeepLinkReturnURL string
	DeepLinkData      string

	Custom map[string]string

	// RawClaims keeps the full verified claim map for downstream handlers
	// that need platform-specific extensions.
	RawClaims map[string]any
}

type ctxKey struct{}

// NewHTTPContext attaches a validated launch context to a request context.
func NewHTTPContext(ctx context.Context, lc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, lc)
}

// FromHTTPContext extracts the launch context placed by the launch handler.
func FromHTTPContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(ctxKey{}).(*Context)
	return lc, ok
}

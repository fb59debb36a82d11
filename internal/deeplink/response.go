// Package deeplink builds the tool-signed response that ends a deep
// linking launch: the instructor picked content, and the tool sends the
// chosen items back to the platform's return URL.
package deeplink

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
)

const (
	claimMessageType  = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion      = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimDeploymentID = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimContentItems = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	claimData         = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	messageTypeResponse = "LtiDeepLinkingResponse"
)

// LineItemHint asks the platform to create a gradebook column alongside
// the placed link.
type LineItemHint struct {
	Label        string  `json:"label,omitempty"`
	ScoreMaximum float64 `json:"scoreMaximum"`
	ResourceID   string  `json:"resourceId,omitempty"`
}

// ContentItem is one placed resource link.
type ContentItem struct {
	Type     string            `json:"type"`
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url"`
	Custom   map[string]string `json:"custom,omitempty"`
	LineItem *LineItemHint     `json:"lineItem,omitempty"`
}

// ResourceLink builds the standard ltiResourceLink item.
func ResourceLink(title, url string, custom map[string]string, li *LineItemHint) ContentItem {
	return ContentItem{Type: "ltiResourceLink", Title: title, URL: url, Custom: custom, LineItem: li}
}

// Response is everything a signed deep linking response needs. The JWT
// reverses the id_token direction: the tool's client_id is the issuer
// and the platform issuer the audience. Data echoes the platform's
// opaque claim untouched.
type Response struct {
	ClientID       string
	PlatformIssuer string
	DeploymentID   string
	Data           string
	Items          []ContentItem
}

// Builder signs deep linking responses with the tool key.
type Builder struct {
	Pair *keys.KeyPair
	TTL  time.Duration
	Now  func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Sign mints the response JWT.
func (b *Builder) Sign(resp Response) (string, error) {
	if resp.ClientID == "" || resp.PlatformIssuer == "" {
		return "", fmt.Errorf("deeplink: response needs client id and platform issuer")
	}
	ttl := b.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := b.now()

	claims := jwt.MapClaims{
		"iss":             resp.ClientID,
		"aud":             resp.PlatformIssuer,
		"iat":             now.Unix(),
		"exp":             now.Add(ttl).Unix(),
		"nonce":           uuid.NewString(),
		claimMessageType:  messageTypeResponse,
		claimVersion:      launch.VersionLTI13,
		claimDeploymentID: resp.DeploymentID,
		claimContentItems: resp.Items,
	}
	if resp.Data != "" {
		claims[claimData] = resp.Data
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = b.Pair.KID
	signed, err := tok.SignedString(b.Pair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("deeplink: sign response: %w", err)
	}
	return signed, nil
}

var autoPostPage = template.Must(template.New("deeplink").Parse(`<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form action="{{.Action}}" method="post">
<input type="hidden" name="JWT" value="{{.JWT}}">
<noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

// WriteAutoPost renders the self-submitting form that carries the signed
// response back to the platform's deep link return URL.
func (b *Builder) WriteAutoPost(w http.ResponseWriter, returnURL, signed string) error {
	if returnURL == "" {
		return fmt.Errorf("deeplink: no return url")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return autoPostPage.Execute(w, struct {
		Action string
		JWT    string
	}{Action: returnURL, JWT: signed})
}

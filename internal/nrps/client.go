// Package nrps fetches course rosters from a platform's Names and Role
// Provisioning Services endpoint.
package nrps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/classbridge/classbridge-tool/internal/registry"
)

// ScopeMembership is the NRPS scope requested from the token endpoint.
const ScopeMembership = "https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly"

const mediaMembership = "application/vnd.ims.lti-nrps.v2.membershipcontainer+json"

// Member is one roster entry.
type Member struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
	Status string   `json:"status,omitempty"`
}

type membershipContainer struct {
	ID      string `json:"id"`
	Context struct {
		ID    string `json:"id"`
		Label string `json:"label,omitempty"`
		Title string `json:"title,omitempty"`
	} `json:"context"`
	Members []Member `json:"members"`
}

// Config carries token-endpoint credentials, as for the AGS client.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	http *http.Client
}

func New(cfg Config) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{ScopeMembership},
	}
	h := cc.Client(context.Background())
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 15 * time.Second
	}
	return &Client{http: h}
}

func NewForRegistration(reg registry.Registration, clientSecret string) *Client {
	return New(Config{
		TokenURL:     reg.TokenEndpoint,
		ClientID:     reg.ClientID,
		ClientSecret: clientSecret,
	})
}

// Members fetches the full roster behind a membership URL, following
// RFC 5988 Link rel="next" headers until the platform stops paginating.
func (c *Client) Members(ctx context.Context, membershipURL string) ([]Member, error) {
	var out []Member
	next := membershipURL
	for next != "" {
		page, follow, err := c.page(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		next = follow
	}
	return out, nil
}

func (c *Client) page(ctx context.Context, u string) ([]Member, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", mediaMembership)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("nrps: fetch members: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("nrps: fetch members: %s", res.Status)
	}
	var container membershipContainer
	if err := json.NewDecoder(res.Body).Decode(&container); err != nil {
		return nil, "", fmt.Errorf("nrps: decode members: %w", err)
	}
	return container.Members, nextLink(res.Header), nil
}

// nextLink extracts rel="next" from a Link header. Platforms send either
// one combined header or several.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			seg := strings.Split(part, ";")
			if len(seg) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(seg[0]), "<>")
			for _, attr := range seg[1:] {
				attr = strings.TrimSpace(attr)
				if attr == `rel="next"` || attr == "rel=next" {
					return target
				}
			}
		}
	}
	return ""
}

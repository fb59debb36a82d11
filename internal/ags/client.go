// Package ags talks to a platform's Assignment and Grade Services
// endpoints using the service URLs captured at launch time.
package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/classbridge/classbridge-tool/internal/registry"
)

// AGS scope URIs requested from the platform token endpoint.
const (
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadOnly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeResultReadOnly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
)

const (
	mediaLineItem = "application/vnd.ims.lis.v2.lineitem+json"
	mediaScore    = "application/vnd.ims.lis.v1.score+json"
)

// LineItem is one gradebook column on the platform side.
type LineItem struct {
	ID             string  `json:"id,omitempty"`
	Label          string  `json:"label"`
	ScoreMaximum   float64 `json:"scoreMaximum"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
}

// Score is one grade passback for a user on a line item.
type Score struct {
	UserID           string    `json:"userId"`
	ScoreGiven       float64   `json:"scoreGiven"`
	ScoreMaximum     float64   `json:"scoreMaximum"`
	ActivityProgress string    `json:"activityProgress"`
	GradingProgress  string    `json:"gradingProgress"`
	Timestamp        time.Time `json:"timestamp"`
}

// Config carries the platform token-endpoint credentials for service
// calls. Scopes defaults to the full AGS set.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Client holds an oauth2-wrapped HTTP client that fetches and refreshes
// platform access tokens transparently.
type Client struct {
	http *http.Client
}

func New(cfg Config) *Client {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeLineItem, ScopeResultReadOnly, ScopeScore}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       scopes,
	}
	h := cc.Client(context.Background())
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 15 * time.Second
	}
	return &Client{http: h}
}

// NewForRegistration builds a client for one registered platform.
func NewForRegistration(reg registry.Registration, clientSecret string, scopes []string) *Client {
	return New(Config{
		TokenURL:     reg.TokenEndpoint,
		ClientID:     reg.ClientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
	})
}

// ListLineItems fetches the line items behind the launch's lineitems URL,
// optionally filtered (resource_link_id, resource_id, tag).
func (c *Client) ListLineItems(ctx context.Context, lineItemsURL string, filter map[string]string) ([]LineItem, error) {
	u, err := url.Parse(lineItemsURL)
	if err != nil {
		return nil, fmt.Errorf("ags: bad lineitems url: %w", err)
	}
	q := u.Query()
	for k, v := range filter {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", mediaLineItem)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ags: list line items: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ags: list line items: %s", res.Status)
	}
	var items []LineItem
	if err := json.NewDecoder(res.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("ags: decode line items: %w", err)
	}
	return items, nil
}

// CreateLineItem adds a gradebook column.
func (c *Client) CreateLineItem(ctx context.Context, lineItemsURL string, item LineItem) (LineItem, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return LineItem{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineItemsURL, bytes.NewReader(body))
	if err != nil {
		return LineItem{}, err
	}
	req.Header.Set("Content-Type", mediaLineItem)
	req.Header.Set("Accept", mediaLineItem)
	res, err := c.http.Do(req)
	if err != nil {
		return LineItem{}, fmt.Errorf("ags: create line item: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return LineItem{}, fmt.Errorf("ags: create line item: %s", res.Status)
	}
	var created LineItem
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return LineItem{}, fmt.Errorf("ags: decode line item: %w", err)
	}
	return created, nil
}

// EnsureLineItem returns the line item for a resource link, creating it
// when the platform has none yet.
func (c *Client) EnsureLineItem(ctx context.Context, lineItemsURL string, want LineItem) (LineItem, error) {
	existing, err := c.ListLineItems(ctx, lineItemsURL, map[string]string{
		"resource_link_id": want.ResourceLinkID,
	})
	if err != nil {
		return LineItem{}, err
	}
	for _, it := range existing {
		if it.ResourceLinkID == want.ResourceLinkID && (want.ResourceID == "" || it.ResourceID == want.ResourceID) {
			return it, nil
		}
	}
	return c.CreateLineItem(ctx, lineItemsURL, want)
}

// PostScore publishes one score to {lineItemURL}/scores.
func (c *Client) PostScore(ctx context.Context, lineItemURL string, s Score) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL(lineItemURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mediaScore)
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ags: post score: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("ags: post score: %s", res.Status)
	}
	return nil
}

// scoresURL appends the scores sub-path, keeping any line-item query
// string (Canvas puts pagination hints there).
func scoresURL(lineItemURL string) string {
	base, query, found := strings.Cut(lineItemURL, "?")
	base = strings.TrimSuffix(base, "/") + "/scores"
	if found {
		return base + "?" + query
	}
	return base
}

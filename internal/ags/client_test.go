package ags_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-tool/internal/ags"
)

// fakeGradebook fakes the platform token endpoint plus a lineitems
// collection with a scores sink.
type fakeGradebook struct {
	mu     sync.Mutex
	items  []ags.LineItem
	scores map[string][]ags.Score // line item id -> posted scores
	srv    *httptest.Server
}

func newFakeGradebook(t *testing.T) *fakeGradebook {
	t.Helper()
	g := &fakeGradebook{scores: map[string][]ags.Score{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ags-token", "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/lineitems", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer ags-token", r.Header.Get("Authorization"))
		g.mu.Lock()
		defer g.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			out := g.items
			if rl := r.URL.Query().Get("resource_link_id"); rl != "" {
				out = nil
				for _, it := range g.items {
					if it.ResourceLinkID == rl {
						out = append(out, it)
					}
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var it ags.LineItem
			require.NoError(t, json.NewDecoder(r.Body).Decode(&it))
			it.ID = g.srv.URL + "/lineitems/42"
			g.items = append(g.items, it)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(it)
		}
	})
	mux.HandleFunc("/lineitems/42/scores", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var s ags.Score
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		g.mu.Lock()
		g.scores[g.srv.URL+"/lineitems/42"] = append(g.scores[g.srv.URL+"/lineitems/42"], s)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGradebook) client() *ags.Client {
	return ags.New(ags.Config{
		TokenURL:     g.srv.URL + "/token",
		ClientID:     "client-1",
		ClientSecret: "secret",
	})
}

func TestEnsureLineItemCreatesOnce(t *testing.T) {
	g := newFakeGradebook(t)
	c := g.client()
	ctx := context.Background()

	want := ags.LineItem{Label: "Quiz 1", ScoreMaximum: 10, ResourceLinkID: "link-3"}

	first, err := c.EnsureLineItem(ctx, g.srv.URL+"/lineitems", want)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := c.EnsureLineItem(ctx, g.srv.URL+"/lineitems", want)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.items, 1)
}

func TestPostScore(t *testing.T) {
	g := newFakeGradebook(t)
	c := g.client()
	ctx := context.Background()

	item, err := c.CreateLineItem(ctx, g.srv.URL+"/lineitems", ags.LineItem{
		Label: "Quiz 1", ScoreMaximum: 10, ResourceLinkID: "link-3",
	})
	require.NoError(t, err)

	err = c.PostScore(ctx, item.ID, ags.Score{
		UserID:           "user-42",
		ScoreGiven:       8,
		ScoreMaximum:     10,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
	})
	require.NoError(t, err)

	g.mu.Lock()
	defer g.mu.Unlock()
	posted := g.scores[item.ID]
	require.Len(t, posted, 1)
	require.Equal(t, "user-42", posted[0].UserID)
	require.EqualValues(t, 8, posted[0].ScoreGiven)
	require.False(t, posted[0].Timestamp.IsZero())
}

func TestListLineItemsFilters(t *testing.T) {
	g := newFakeGradebook(t)
	c := g.client()
	ctx := context.Background()

	_, err := c.CreateLineItem(ctx, g.srv.URL+"/lineitems", ags.LineItem{
		Label: "Quiz 1", ScoreMaximum: 10, ResourceLinkID: "link-3",
	})
	require.NoError(t, err)

	items, err := c.ListLineItems(ctx, g.srv.URL+"/lineitems", map[string]string{
		"resource_link_id": "link-3",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	none, err := c.ListLineItems(ctx, g.srv.URL+"/lineitems", map[string]string{
		"resource_link_id": "other-link",
	})
	require.NoError(t, err)
	require.Empty(t, none)
}

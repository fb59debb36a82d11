package http

import (
	"encoding/json"
	"time"

	nethttp "net/http"

	"github.com/classbridge/classbridge-tool/internal/ags"
	"github.com/classbridge/classbridge-tool/internal/nrps"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/roles"
	"github.com/classbridge/classbridge-tool/internal/session"
)

// MeHandler returns the caller's session view: who they are, where they
// launched from, and what they may do.
func MeHandler() nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		claims, ok := session.FromContext(r.Context())
		if !ok {
			writeErr(w, nethttp.StatusUnauthorized, "missing session")
			return
		}
		rr := roles.New(claims.Roles)
		out := map[string]any{
			"subject":       claims.Subject,
			"context_id":    claims.ContextID,
			"resource_link": claims.ResourceLinkID,
			"roles":         claims.Roles,
			"is_instructor": rr.IsInstructorOrHigher(),
			"is_learner":    rr.IsLearnerOrHigher(),
			"expires_at":    claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
		}
		if claims.DueAt != nil {
			out["due_at"] = claims.DueAt.Time.UTC().Format(time.RFC3339)
		}
		writeJSON(w, nethttp.StatusOK, out)
	}
}

func agsClientFor(reg registry.Registration) *ags.Client {
	return ags.NewForRegistration(reg, reg.ClientSecret, nil)
}

// ListLineItemsHandler proxies the platform's gradebook columns for the
// launched context.
func ListLineItemsHandler(regs registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		claims, ok := session.FromContext(r.Context())
		if !ok {
			writeErr(w, nethttp.StatusUnauthorized, "missing session")
			return
		}
		if claims.LineItemsURL == "" {
			writeErr(w, nethttp.StatusNotFound, "launch carried no grade service")
			return
		}
		reg, err := regs.Get(r.Context(), claims.RegistrationID)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "registration lookup failed")
			return
		}
		filter := map[string]string{}
		if claims.ResourceLinkID != "" {
			filter["resource_link_id"] = claims.ResourceLinkID
		}
		items, err := agsClientFor(reg).ListLineItems(r.Context(), claims.LineItemsURL, filter)
		if err != nil {
			writeErr(w, nethttp.StatusBadGateway, "platform grade service error")
			return
		}
		writeJSON(w, nethttp.StatusOK, items)
	}
}

// PostScoreHandler publishes one score back to the platform. The line
// item is looked up (or created) for the launched resource link.
func PostScoreHandler(regs registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		claims, ok := session.FromContext(r.Context())
		if !ok {
			writeErr(w, nethttp.StatusUnauthorized, "missing session")
			return
		}
		if claims.LineItemsURL == "" {
			writeErr(w, nethttp.StatusNotFound, "launch carried no grade service")
			return
		}
		var req struct {
			UserID           string  `json:"user_id"`
			ScoreGiven       float64 `json:"score_given"`
			ScoreMaximum     float64 `json:"score_maximum"`
			Label            string  `json:"label"`
			ActivityProgress string  `json:"activity_progress"`
			GradingProgress  string  `json:"grading_progress"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.ScoreMaximum <= 0 {
			writeErr(w, nethttp.StatusBadRequest, "bad score payload")
			return
		}
		if req.ActivityProgress == "" {
			req.ActivityProgress = "Completed"
		}
		if req.GradingProgress == "" {
			req.GradingProgress = "FullyGraded"
		}
		if req.Label == "" {
			req.Label = "ClassBridge activity"
		}

		reg, err := regs.Get(r.Context(), claims.RegistrationID)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "registration lookup failed")
			return
		}
		client := agsClientFor(reg)
		item, err := client.EnsureLineItem(r.Context(), claims.LineItemsURL, ags.LineItem{
			Label:          req.Label,
			ScoreMaximum:   req.ScoreMaximum,
			ResourceLinkID: claims.ResourceLinkID,
		})
		if err != nil {
			writeErr(w, nethttp.StatusBadGateway, "platform grade service error")
			return
		}
		err = client.PostScore(r.Context(), item.ID, ags.Score{
			UserID:           req.UserID,
			ScoreGiven:       req.ScoreGiven,
			ScoreMaximum:     req.ScoreMaximum,
			ActivityProgress: req.ActivityProgress,
			GradingProgress:  req.GradingProgress,
			Timestamp:        time.Now(),
		})
		if err != nil {
			writeErr(w, nethttp.StatusBadGateway, "platform grade service error")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"line_item": item.ID, "status": "posted"})
	}
}

// RosterHandler returns the course roster via the platform's membership
// service.
func RosterHandler(regs registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		claims, ok := session.FromContext(r.Context())
		if !ok {
			writeErr(w, nethttp.StatusUnauthorized, "missing session")
			return
		}
		if claims.NRPSURL == "" {
			writeErr(w, nethttp.StatusNotFound, "launch carried no membership service")
			return
		}
		reg, err := regs.Get(r.Context(), claims.RegistrationID)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "registration lookup failed")
			return
		}
		members, err := nrps.NewForRegistration(reg, reg.ClientSecret).Members(r.Context(), claims.NRPSURL)
		if err != nil {
			writeErr(w, nethttp.StatusBadGateway, "platform membership service error")
			return
		}
		writeJSON(w, nethttp.StatusOK, members)
	}
}

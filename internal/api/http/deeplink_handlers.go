package http

import (
	"encoding/json"

	nethttp "net/http"

	"github.com/classbridge/classbridge-tool/internal/deeplink"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/session"
)

// DeepLinkReturnHandler finishes a deep linking launch: the frontend
// posts the instructor's selection, and the response is the
// self-submitting form that carries the signed content items back to
// the platform.
func DeepLinkReturnHandler(regs registry.Store, builder *deeplink.Builder) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		claims, ok := session.FromContext(r.Context())
		if !ok {
			writeErr(w, nethttp.StatusUnauthorized, "missing session")
			return
		}
		if claims.DeepLinkReturnURL == "" {
			writeErr(w, nethttp.StatusBadRequest, "session did not start from a deep linking request")
			return
		}

		var req struct {
			Items []struct {
				Title        string            `json:"title"`
				URL          string            `json:"url"`
				Custom       map[string]string `json:"custom"`
				Label        string            `json:"label"`
				ScoreMaximum float64           `json:"score_maximum"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
			writeErr(w, nethttp.StatusBadRequest, "bad selection payload")
			return
		}

		reg, err := regs.Get(r.Context(), claims.RegistrationID)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "registration lookup failed")
			return
		}

		items := make([]deeplink.ContentItem, 0, len(req.Items))
		for _, it := range req.Items {
			if it.URL == "" {
				writeErr(w, nethttp.StatusBadRequest, "item without url")
				return
			}
			var hint *deeplink.LineItemHint
			if it.ScoreMaximum > 0 {
				hint = &deeplink.LineItemHint{Label: it.Label, ScoreMaximum: it.ScoreMaximum}
			}
			items = append(items, deeplink.ResourceLink(it.Title, it.URL, it.Custom, hint))
		}

		signed, err := builder.Sign(deeplink.Response{
			ClientID:       reg.ClientID,
			PlatformIssuer: reg.Issuer,
			DeploymentID:   claims.DeploymentID,
			Data:           claims.DeepLinkData,
			Items:          items,
		})
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "deep link signing failed")
			return
		}
		if err := builder.WriteAutoPost(w, claims.DeepLinkReturnURL, signed); err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "deep link response failed")
		}
	}
}

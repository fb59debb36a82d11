// Package http holds the handlers for the tool's public surface.
// Handlers only; routes are wired in cmd/toold.
package http

import (
	"encoding/json"
	"errors"

	nethttp "net/http"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/session"
)

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w nethttp.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// launchStatus maps a validation failure onto a response class: trust
// failures answer 401, upstream key trouble 502, the rest 500.
func launchStatus(err error) int {
	switch {
	case errors.Is(err, launch.ErrInvalidState),
		errors.Is(err, launch.ErrNonceMismatch),
		errors.Is(err, launch.ErrUnknownNonce),
		errors.Is(err, launch.ErrSignatureInvalid),
		errors.Is(err, launch.ErrTokenExpired),
		errors.Is(err, launch.ErrIncompleteLaunch),
		errors.Is(err, registry.ErrUnknownPlatform):
		return nethttp.StatusUnauthorized
	case errors.Is(err, keys.ErrKeyResolution):
		return nethttp.StatusBadGateway
	default:
		return nethttp.StatusInternalServerError
	}
}

func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrTokenReplayed):
		return nethttp.StatusUnauthorized
	case errors.Is(err, session.ErrCannotRefreshOneUseToken):
		return nethttp.StatusBadRequest
	default:
		return nethttp.StatusInternalServerError
	}
}

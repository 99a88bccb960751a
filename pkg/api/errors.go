package api

import (
	"encoding/json"
	"net/http"

	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// errorResponse is the JSON body written for any failed request,
// mirroring spec.md §6.2's inline error shape (x-tg-data carries the
// same {code, message} pair for streamed errors).
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps a tgerror.Code to an HTTP status: 404 for not_found,
// 400 for invalid input kinds and checksum mismatches, 408 for
// cancellation, 409 for package and lock conflicts, 410 for heartbeat
// expiration, 502 for io, and 500 for every other code.
func statusFor(code tgerror.Code) int {
	switch code {
	case tgerror.CodeNotFound:
		return http.StatusNotFound
	case tgerror.CodeInvalidKind, tgerror.CodeInvalidGraph, tgerror.CodeChecksumMismatch:
		return http.StatusBadRequest
	case tgerror.CodeCancellation:
		return http.StatusRequestTimeout
	case tgerror.CodePackageVersionConflict, tgerror.CodePackageCycle, tgerror.CodeLockOutOfDate:
		return http.StatusConflict
	case tgerror.CodeHeartbeatExpiration:
		return http.StatusGone
	case tgerror.CodeIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err's tgerror.Code (or CodeOther if err is not
// one) as the matching HTTP status, with a JSON {code, message} body.
func writeError(w http.ResponseWriter, err error) {
	code := tgerror.CodeOf(err)
	if code == "" {
		code = tgerror.CodeOther
	}
	writeJSON(w, statusFor(code), errorResponse{Code: string(code), Message: err.Error()})
}

var errNotImplemented = tgerror.New(tgerror.CodeOther, "module source interpretation is out of scope for this server")

// idResponse wraps a single generated id, the response body for every
// create-style endpoint (pipes, ptys) that hands back just an id.
type idResponse struct {
	ID string `json:"id"`
}

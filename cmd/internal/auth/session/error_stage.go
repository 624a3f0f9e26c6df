package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gatehouse/cmd/security/token"
)

// ErrorStage returns the default error stage.
//
// An undecodable token is the caller's fault and gets a bare 401. Anything else
// is an infrastructure failure: it is logged under event and answered with 500,
// so "not authorized" and "system broken" stay distinguishable.
func ErrorStage(log *slog.Logger, event string) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, token.ErrInvalidToken) {
			log.InfoContext(r.Context(), "session.reject.invalid_token", "path", r.URL.Path)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		log.ErrorContext(r.Context(), event, "path", r.URL.Path, "resolution", IsResolutionError(err), "err", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "internal error"})
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/alloybuild/orchestrator/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps any error to its wire shape. Errors that are not an
// *apierr.Error are treated as an unclassified internal failure.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.KindDatabaseError, err, "internal error")
	}
	writeJSON(w, apiErr.Status, map[string]string{
		"error": apiErr.Error(),
		"kind":  string(apiErr.Kind),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

const (
	defaultBodyLimit = 64 * 1024
	uploadBodyLimit  = 2 << 30 // 2 GiB
)

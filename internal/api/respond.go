package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/metavida/wellness-automation/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeRequest reads a JSON body into v and runs its validate tags.
// The returned message is safe to show to the caller.
func decodeRequest(r *http.Request, v any) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return "invalid request body", false
	}
	if err := domain.Validate(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()), false
		}
		return "invalid request", false
	}
	return "", true
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

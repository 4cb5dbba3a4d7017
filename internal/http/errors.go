package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/blood-matching/internal/apperr"
)

type errorBody struct {
	Error            apperr.Kind `json:"error"`
	Message          string      `json:"message"`
	NextEligibleDate string      `json:"nextEligibleDate,omitempty"`
	Available        *int        `json:"available,omitempty"`
	RequestID        string      `json:"requestId,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInsufficientStock, apperr.KindNotEligible, apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: apperr.KindOf(err), Message: err.Error(), RequestID: requestIDFromContext(r.Context())}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Error()
		if ae.NextEligible != nil {
			body.NextEligibleDate = ae.NextEligible.Format(time.DateOnly)
		}
		body.Available = ae.Available
	}
	status := statusFor(body.Error)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "route", routeTemplate(r), "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError folds validator output into one readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("invalid payload", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required", "required_with":
			parts = append(parts, e.Field()+" is required")
		case "oneof":
			parts = append(parts, e.Field()+" must be one of: "+e.Param())
		default:
			parts = append(parts, e.Field()+" failed "+e.Tag()+"="+e.Param())
		}
	}
	return apperr.Validation("%s", strings.Join(parts, "; "))
}

package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/synaptica-ai/reporting/pkg/analytics/cohort"
	"github.com/synaptica-ai/reporting/pkg/analytics/dataset"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/gateway/middleware"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		msg := fe.Field() + " is invalid"
		switch fe.Tag() {
		case "required", "required_without":
			msg = fe.Field() + " is required"
		case "max":
			msg = fe.Field() + " must be at most " + fe.Param() + " characters"
		case "oneof":
			msg = fe.Field() + " must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
		}
		messages = append(messages, msg)
	}
	return strings.Join(messages, ", ")
}

// decodeAndValidate reads a JSON body into dst and applies its validate tags.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &requestError{msg: "invalid JSON payload"}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &requestError{msg: formatValidationErrors(verrs)}
		}
		return err
	}
	return nil
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

// respondError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	var unsupported *dataset.UnsupportedDataDefinitionError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &reqErr), errors.As(err, &unsupported), cohort.IsClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, cohort.ErrDefinitionNotFound), errors.Is(err, cohort.ErrMaterializationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	fields := map[string]interface{}{
		"request_id": middleware.RequestID(r.Context()),
		"path":       r.URL.Path,
		"status":     status,
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).WithFields(fields).Error("Request failed")
		message = "internal error"
	} else {
		logger.Log.WithError(err).WithFields(fields).Debug("Request rejected")
	}
	respondJSON(w, status, map[string]string{"error": message})
}

func limitParam(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

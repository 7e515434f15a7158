package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
	"github.com/Simplici0/engineroom/internal/store"
)

const maxBodyBytes = 32 << 20

// response is the envelope for every JSON reply.
type response struct {
	Meta meta `json:"meta"`
	Data any  `json:"data,omitempty"`
}

type meta struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Details []errorDetail `json:"details,omitempty"`
}

type errorDetail struct {
	Path string `json:"path"`
	Info string `json:"info"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Meta: meta{Code: http.StatusOK, Message: "OK"}, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string, details ...errorDetail) {
	writeJSON(w, status, response{Meta: meta{Code: status, Message: message, Details: details}})
}

// decodeBody reads a JSON body into dst and runs struct validation.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadRequest("request body is empty")
		}
		return errBadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return validate.Struct(dst)
}

type badRequestError string

func errBadRequest(msg string) error { return badRequestError(msg) }

func (e badRequestError) Error() string { return string(e) }

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a 500.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs validator.ValidationErrors
	var configErr *rules.ConfigValidationError
	var itemErr *pricing.InvalidItemError
	var badReq badRequestError

	switch {
	case errors.As(err, &validationErrs):
		details := make([]errorDetail, 0, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details = append(details, errorDetail{
				Path: fieldErr.Namespace(),
				Info: validationMessage(fieldErr),
			})
		}
		writeMessage(w, http.StatusBadRequest, "Validation failed", details...)
	case errors.As(err, &badReq):
		writeMessage(w, http.StatusBadRequest, badReq.Error())
	case errors.As(err, &configErr):
		details := make([]errorDetail, 0, len(configErr.Problems))
		for _, p := range configErr.Problems {
			details = append(details, errorDetail{Path: p.Path, Info: p.Info})
		}
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid rule configuration", details...)
	case errors.As(err, &itemErr):
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid item", errorDetail{Path: itemErr.ItemID, Info: itemErr.Reason})
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	default:
		s.log.Errorf(r.Context(), "%s %s: %v", r.Method, r.URL.Path, err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

func validationMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fieldErr.Field() + " is required"
	case "min", "gte":
		return fieldErr.Field() + " must be at least " + fieldErr.Param()
	case "max", "lte":
		return fieldErr.Field() + " must be at most " + fieldErr.Param()
	case "oneof":
		return fieldErr.Field() + " must be one of " + fieldErr.Param()
	default:
		return fieldErr.Field() + " is invalid"
	}
}

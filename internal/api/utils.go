package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

var errBadBody = errors.New("invalid request body")

func generateRandomString(length int) string {
	byteLength := (length * 3) / 4
	if byteLength < length {
		byteLength = length
	}

	b := make([]byte, byteLength)
	rand.Read(b)
	encoded := base64.URLEncoding.EncodeToString(b)
	if len(encoded) > length {
		return encoded[:length]
	}
	return encoded
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// writeError maps domain errors onto HTTP status codes. Unexpected errors are
// logged and reported without detail.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, errBadBody):
		status, msg = http.StatusBadRequest, err.Error()
	case ledger.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, share.ErrInvalidToken):
		status, msg = http.StatusBadRequest, "invalid link"
	case errors.Is(err, share.ErrNoChanges):
		status, msg = http.StatusBadRequest, "no changes"
	case errors.Is(err, ledger.ErrParticipantOutOfRange):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	default:
		a.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into dst and validates its struct tags.
func (a *API) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errBadBody
	}
	if err := a.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ledger.ValidationError{Field: fieldName(fe), Reason: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

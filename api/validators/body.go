package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// Job scopes are the largest body we accept.
const maxBodyBytes = 64 << 10

var (
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	statePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)

	validate = buildValidator()
)

// fieldMessages renders a failed tag for clients. %s is the tag parameter.
var fieldMessages = map[string]string{
	"required": "is required",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"gt":       "must be greater than %s",
	"len":      "must be exactly %s characters",
	"oneof":    "must be one of: %s",
	"email":    "must be a valid email",
	"zip":      "must be a 5 digit ZIP or ZIP+4",
	"usstate":  "must be a two letter state code",
}

func buildValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names, which is what clients sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	for tag, pattern := range map[string]*regexp.Regexp{"zip": zipPattern, "usstate": statePattern} {
		p := pattern
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return p.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	}
	return v
}

// DecodeJSONBody reads exactly one JSON object into dest and validates it.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must be a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func decodeError(err error) *pkgerrors.Error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
	case errors.As(err, &tooLarge):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"limit_bytes": tooLarge.Limit})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func fieldErrors(err error) *pkgerrors.Error {
	var failed validator.ValidationErrors
	if !errors.As(err, &failed) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(failed))
	for _, fe := range failed {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func describe(fe validator.FieldError) string {
	msg, ok := fieldMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}

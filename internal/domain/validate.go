package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// validate is the singleton validator used at the Indexer boundary.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", validators.NotBlank)
	_ = validate.RegisterValidation("aturi", func(fl validator.FieldLevel) bool {
		_, err := ParseAtURI(fl.Field().String())
		return err == nil
	})
}

// AtURI is a parsed at://<repo>/<collection>/<rkey> record URI.
type AtURI struct {
	Repo       string
	Collection string
	RKey       string
}

func (u AtURI) String() string {
	return fmt.Sprintf("at://%s/%s/%s", u.Repo, u.Collection, u.RKey)
}

// ParseAtURI splits a record URI into its repository, collection and
// record key.
func ParseAtURI(uri string) (AtURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return AtURI{}, fmt.Errorf("uri %q: missing at:// scheme", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return AtURI{}, fmt.Errorf("uri %q: want at://<repo>/<collection>/<rkey>", uri)
	}
	return AtURI{Repo: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// validationError converts validator output into a *ValidationError.
func validationError(err error) *ValidationError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &ValidationError{Message: err.Error()}
	}
	problems := make([]*ValidationError, 0, len(ve))
	for _, fe := range ve {
		problems = append(problems, &ValidationError{
			Field:   fieldPath(fe),
			Message: translateValidationError(fe),
		})
	}
	return joinValidation(problems)
}

// fieldPath drops the root struct name from the namespace:
// "IndexRequest.listing.title" becomes "listing.title".
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func translateValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "aturi":
		return "must be an at://<repo>/<collection>/<rkey> URI"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// ValidateRecord checks a listing record with the rules IndexListing
// applies, so clients can reject a record before writing it.
func ValidateRecord(record *ListingRecord) error {
	if err := validate.Struct(record); err != nil {
		return validationError(err)
	}
	return nil
}

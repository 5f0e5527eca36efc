package pipeline

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/lead-pipeline/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json names so errors match the request body.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// FieldError describes one invalid field of a submitted lead.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned by Run when a lead is rejected before any
// stage executes.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "pipeline: invalid lead: " + strings.Join(parts, "; ")
}

// Class returns the error classification surfaced to callers.
func (e *ValidationError) Class() model.ErrorClass { return model.ErrorClassValidation }

// ValidateLead checks that a lead carries enough identity for the
// downstream providers.
func ValidateLead(lead model.LeadInput) error {
	var fields []FieldError

	if err := getValidator().Struct(lead); err != nil {
		var verrs validator.ValidationErrors
		if !asValidationErrors(err, &verrs) {
			return &ValidationError{Fields: []FieldError{{Field: "lead", Message: err.Error()}}}
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
	}

	if strings.TrimSpace(lead.Name) == "" && !hasField(fields, "name") {
		fields = append(fields, FieldError{Field: "name", Message: "is required"})
	}
	if !lead.HasIdentity() {
		fields = append(fields, FieldError{Field: "email", Message: "one of email, phone, or company is required"})
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors) //nolint:errorlint
	if ok {
		*out = v
	}
	return ok
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

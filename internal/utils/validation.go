package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"clinical-workflow-server/internal/apperr"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in errors are the json
// names of the struct fields.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate performs validation on a struct. Failures come back as an
// *apperr.ValidationError keyed by json field name.
func Validate(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return &apperr.ValidationError{Fields: FieldErrors(verrs)}
}

// FieldErrors turns validator errors into one message per field.
func FieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		if _, seen := out[e.Field()]; seen {
			continue
		}
		out[e.Field()] = fieldMessage(e)
	}
	return out
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", humanize(e.Field()))
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", humanize(e.Field()), e.Param())
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", humanize(e.Field()), e.Param())
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", humanize(e.Field()))
	case "oneof":
		return fmt.Sprintf("The %s field must be one of: %s.", humanize(e.Field()), e.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("The %s field must be a valid UUID.", humanize(e.Field()))
	default:
		return fmt.Sprintf("The %s field is invalid.", humanize(e.Field()))
	}
}

func humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

// BindAndValidate binds the request body to a struct and validates it.
// If binding or validation fails, it sends the error response and returns false.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if !BindJSON(c, obj) {
		return false
	}
	if err := Validate(obj); err != nil {
		var verr *apperr.ValidationError
		if errors.As(err, &verr) {
			ValidationFailed(c, verr.Fields)
		} else {
			BadRequest(c, "Validation failed: "+err.Error())
		}
		return false
	}
	return true
}

// BindJSON binds the request body, answering 400 on malformed JSON.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		BadRequest(c, "Invalid request payload: "+err.Error())
		return false
	}
	return true
}

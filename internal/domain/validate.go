package domain

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// report fields by their json names so errors match the API payloads
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidateStruct runs the struct-tag validation rules on s. Failures are
// returned as validator.ValidationErrors.
func ValidateStruct(s any) error {
	return validate.Struct(s)
}

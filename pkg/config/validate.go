package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct checks the `validate` tags on s and reports failures as INVALID_ARGUMENT.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid settings", err)
	}

	msgs := make([]string, 0, len(verrs))
	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
		fields[fe.Namespace()] = fe.Tag()
	}

	return errors.Wrap(errors.ErrorCodeInvalidArgument, strings.Join(msgs, "; "), err).WithDetails(fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}

// Validate checks the top-level settings. Provider specific settings are checked by the provider.
func (c *Config) Validate() error {
	return ValidateStruct(c)
}

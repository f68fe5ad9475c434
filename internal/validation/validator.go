package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"

	"github.com/go-playground/validator/v10"
)

// This file provides the single validator instance shared by every package that
// checks user-supplied names, decoded chat metadata and configuration.

var (
	// validate holds the single instance of the validator.
	validate *validator.Validate
	// once ensures that the validator is initialized only one time.
	once sync.Once
)

// reservedChars are rejected in chat and folder names because at least one
// supported filesystem refuses them.
const reservedChars = `/\:*?"<>|`

// getInstance uses sync.Once to safely initialize and return the validator singleton.
func getInstance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		// RegisterValidation only fails for an empty tag or nil func.
		_ = validate.RegisterValidation("safename", func(fl validator.FieldLevel) bool {
			return IsSafeName(fl.Field().String())
		})
	})
	return validate
}

// IsSafeName reports whether s can be used as a single path segment.
func IsSafeName(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return false
	}
	if strings.Contains(s, "..") || strings.ContainsRune(s, 0) {
		return false
	}
	return !strings.ContainsAny(s, reservedChars)
}

// Struct checks a given payload struct against the validation rules defined in
// its field tags (e.g., `validate:"required,safename"`).
// If validation fails, it returns a wrapped `app_errors.ErrValidation` listing
// every field that failed.
func Struct(payload interface{}) error {
	v := getInstance()
	err := v.Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: an unexpected error occurred during validation: %s", app_errors.ErrValidation, err.Error())
	}

	var errorMessages []string
	for _, fieldErr := range validationErrors {
		// Example output: "Field 'Name' failed on the 'required' tag"
		errMsg := fmt.Sprintf("Field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag())
		errorMessages = append(errorMessages, errMsg)
	}

	return fmt.Errorf("%w: %s", app_errors.ErrValidation, strings.Join(errorMessages, "; "))
}

// Name validates a single chat or folder name. field is used in the error message.
func Name(field, value string) error {
	if err := getInstance().Var(value, "required,max=200,safename"); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return fmt.Errorf("%w: Field '%s' failed on the '%s' tag", app_errors.ErrValidation, field, validationErrors[0].Tag())
		}
		return fmt.Errorf("%w: %s: %s", app_errors.ErrValidation, field, err.Error())
	}
	return nil
}

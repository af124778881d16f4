// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

// Package validation wraps go-playground/validator v10 behind a process-wide
// singleton and registers the custom tags used by frames and configuration:
//
//   - queryname: a store function name such as "messages:list" or "users/get"
//   - wsurl: an absolute ws:// or wss:// URL
//
// Example usage:
//
//	type Query struct {
//	    Name string `validate:"required,queryname"`
//	}
//
//	if err := validation.ValidateStruct(&q); err != nil {
//	    return fmt.Errorf("invalid query: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// queryNamePattern accepts module paths separated by "/" with an optional
// ":export" suffix. Segments may contain letters, digits, '_', '-' and '.'.
var queryNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+(/[A-Za-z0-9_.\-]+)*(:[A-Za-z0-9_]+)?$`)

// FieldError describes a single field that failed validation.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field name that failed validation.
func (e *FieldError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string { return e.tag }

// Param returns the tag parameter, e.g. "100" for "max=100".
func (e *FieldError) Param() string { return e.param }

func (e *FieldError) Error() string { return e.message }

// Error is a collection of field errors returned by ValidateStruct.
type Error struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (ve *Error) Errors() []FieldError {
	return ve.errors
}

func (ve *Error) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for i := range ve.errors {
		messages = append(messages, ve.errors[i].Error())
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("queryname", validateQueryName)
		_ = validate.RegisterValidation("wsurl", validateWSURL)
	})
	return validate
}

// ValidateStruct validates s and returns nil or an *Error.
//
// The concrete return type is error so callers can compare against nil
// without tripping over a typed nil pointer.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &Error{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	fieldErrors := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &Error{errors: fieldErrors}
}

// ValidQueryName reports whether name is an acceptable store function name.
func ValidQueryName(name string) bool {
	return queryNamePattern.MatchString(name)
}

func validateQueryName(fl validator.FieldLevel) bool {
	return ValidQueryName(fl.Field().String())
}

func validateWSURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}

var errorMessageTemplates = map[string]string{
	"required":  "%s is required",
	"queryname": "%s must be a function path such as module:export",
	"wsurl":     "%s must be an absolute ws:// or wss:// URL",
	"hostname":  "%s must be a valid hostname",
	"url":       "%s must be a valid URL",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind().String() == "string"
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

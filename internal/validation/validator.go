// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package validation wraps go-playground/validator v10 with a shared,
// thread-safe instance and human-readable error messages.
//
// Field names in messages come from the json tag when one is present, so a
// rejected feedback document reports "actual_output" rather than "ActualOutput".
//
//	type FeedbackRecord struct {
//	    ActualOutput int `json:"actual_output" validate:"binary"`
//	    Coupons      int `json:"coupons" validate:"gte=0"`
//	}
//
//	if err := validation.ValidateStruct(&rec); err != nil {
//	    respondError(w, http.StatusBadRequest, err.Error())
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError describes one rejected field.
type FieldError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the (json) name of the field.
func (e *FieldError) Field() string { return e.field }

// Tag returns the failing validation tag.
func (e *FieldError) Tag() string { return e.tag }

// Param returns the tag parameter, e.g. "100" for "max=100".
func (e *FieldError) Param() string { return e.param }

// Value returns the rejected value.
func (e *FieldError) Value() interface{} { return e.value }

func (e *FieldError) Error() string { return e.message }

// StructError collects every field error of one ValidateStruct call.
type StructError struct {
	errors []FieldError
}

// Errors returns the individual field errors.
func (se *StructError) Errors() []FieldError {
	return se.errors
}

// Fields returns the names of the rejected fields in validator order.
func (se *StructError) Fields() []string {
	out := make([]string, len(se.errors))
	for i := range se.errors {
		out[i] = se.errors[i].field
	}
	return out
}

func (se *StructError) Error() string {
	if len(se.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(se.errors))
	for i := range se.errors {
		msgs[i] = se.errors[i].message
	}
	return strings.Join(msgs, "; ")
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonTagName)

		// binary: integer label restricted to {0, 1}
		_ = validate.RegisterValidation("binary", func(fl validator.FieldLevel) bool {
			switch fl.Field().Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				v := fl.Field().Int()
				return v == 0 || v == 1
			default:
				return false
			}
		})
	})
	return validate
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		if k := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]; k != "" {
			return k
		}
		return fld.Name
	}
	return name
}

// ValidateStruct validates s. It returns nil on success so callers can
// compare against nil without the typed-nil trap.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &StructError{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: translate(fe),
		}
	}
	return &StructError{errors: out}
}

var plainTemplates = map[string]string{
	"required": "%s is required",
	"binary":   "%s must be 0 or 1",
	"url":      "%s must be a valid URL",
	"hostname": "%s must be a valid hostname",
}

var paramTemplates = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func translate(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()
	if tpl, ok := plainTemplates[tag]; ok {
		return fmt.Sprintf(tpl, field)
	}
	if tpl, ok := paramTemplates[tag]; ok {
		return fmt.Sprintf(tpl, field, param)
	}

	isString := fe.Kind() == reflect.String
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

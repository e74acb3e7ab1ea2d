// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Label   int    `json:"actual_output" validate:"binary"`
	Coupons int    `json:"coupons" validate:"gte=0"`
	Mode    string `koanf:"mode" validate:"oneof=mongo badger"`
	Name    string `validate:"required,max=5"`
}

func TestValidateStructOK(t *testing.T) {
	t.Parallel()

	s := sample{Label: 1, Coupons: 0, Mode: "mongo", Name: "abc"}
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStructFieldNames(t *testing.T) {
	t.Parallel()

	s := sample{Label: 2, Coupons: -1, Mode: "redis", Name: ""}
	err := ValidateStruct(&s)
	if err == nil {
		t.Fatal("expected error")
	}

	var se *StructError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StructError, got %T", err)
	}

	got := strings.Join(se.Fields(), ",")
	want := "actual_output,coupons,mode,Name"
	if got != want {
		t.Errorf("fields = %q, want %q", got, want)
	}
}

func TestTranslatedMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   sample
		want string
	}{
		{"binary", sample{Label: 3, Mode: "mongo", Name: "a"}, "actual_output must be 0 or 1"},
		{"gte", sample{Coupons: -2, Mode: "mongo", Name: "a"}, "coupons must be greater than or equal to 0"},
		{"oneof", sample{Mode: "x", Name: "a"}, "mode must be one of: mongo badger"},
		{"max string", sample{Mode: "mongo", Name: "toolong"}, "Name must be at most 5 characters"},
		{"required", sample{Mode: "mongo"}, "Name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("got %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

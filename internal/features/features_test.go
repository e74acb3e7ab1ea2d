// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package features

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func validPayload() map[string]any {
	return map[string]any{
		"tenure":                 5.0,
		"cityTier":               1.0,
		"warehouseToHome":        12.0,
		"gender":                 1.0,
		"hoursSpentOnApp":        3.0,
		"devicesRegistered":      4.0,
		"preferredOrderCategory": 2.0,
		"satisfactionScore":      3.0,
		"maritalStatus":          1.0,
		"numberOfAddresses":      2.0,
		"complaints":             0.0,
		"orderAmountHike":        15.0,
		"daysSinceLastOrder":     10.0,
	}
}

func TestBuildOrder(t *testing.T) {
	t.Parallel()

	v, err := Build(validPayload())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := Vector{5, 1, 12, 1, 3, 4, 2, 3, 1, 2, 0, 15, 10}
	if v != want {
		t.Errorf("Build = %v, want %v", v, want)
	}
}

func TestBuildMissingListsEveryField(t *testing.T) {
	t.Parallel()

	p := validPayload()
	delete(p, "gender")
	delete(p, "tenure")
	delete(p, "daysSinceLastOrder")

	_, err := Build(p)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Kind != MissingFields {
		t.Errorf("Kind = %v, want MissingFields", ve.Kind)
	}
	want := []string{"tenure", "gender", "daysSinceLastOrder"}
	if !reflect.DeepEqual(ve.Fields, want) {
		t.Errorf("Fields = %v, want %v", ve.Fields, want)
	}
	if ve.Error() != "Missing fields: tenure, gender, daysSinceLastOrder" {
		t.Errorf("message = %q", ve.Error())
	}
}

func TestBuildEmptyPayload(t *testing.T) {
	t.Parallel()

	_, err := Build(map[string]any{})
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != Count {
		t.Fatalf("expected all %d fields missing, got %v", Count, err)
	}
}

func TestBuildNonNumeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
	}{
		{"word", "abc"},
		{"fraction", 2.5},
		{"bool", true},
		{"null", nil},
		{"object", map[string]any{"a": 1}},
		{"fraction string", "4.2"},
		{"beyond int64", 1e19},
		{"beyond int64 string", "-1e19"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPayload()
			p["satisfactionScore"] = tt.value
			_, err := Build(p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Kind != NonNumeric || ve.Fields[0] != "satisfactionScore" {
				t.Errorf("got %+v", ve)
			}
			if ve.Error() != "Field 'satisfactionScore' must be an integer" {
				t.Errorf("message = %q", ve.Error())
			}
		})
	}
}

func TestBuildCoercesNumericForms(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p["tenure"] = "7"
	p["cityTier"] = json.Number("3")
	p["complaints"] = 1
	p["orderAmountHike"] = "20.0"

	v, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if v[0] != 7 || v[1] != 3 || v[10] != 1 || v[11] != 20 {
		t.Errorf("unexpected coercion: %v", v)
	}
}

func TestBuildAcceptsWideIntegers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"above int32", 3000000000.0, 3e9},
		{"below int32", -3000000000.0, -3e9},
		{"above int32 string", "3000000000", 3e9},
		{"above int32 float string", "3000000000.0", 3e9},
		{"large int64", 9.0e15, 9.0e15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPayload()
			p["daysSinceLastOrder"] = tt.value
			v, err := Build(p)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if v[12] != tt.want {
				t.Errorf("daysSinceLastOrder = %v, want %v", v[12], tt.want)
			}
		})
	}
}

func TestMissingTakesPrecedenceOverNonNumeric(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p["tenure"] = "x"
	delete(p, "gender")

	_, err := Build(p)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Kind != MissingFields {
		t.Fatalf("expected MissingFields, got %v", err)
	}
}

func TestCustomerID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     map[string]any
		want   string
		wantOK bool
	}{
		{"string", map[string]any{"customer_id": "C-100"}, "C-100", true},
		{"number", map[string]any{"customer_id": 50012.0}, "50012", true},
		{"legacy alias", map[string]any{"_id": "abc"}, "abc", true},
		{"prefers customer_id", map[string]any{"_id": "a", "customer_id": "b"}, "b", true},
		{"blank", map[string]any{"customer_id": "  "}, "", false},
		{"absent", map[string]any{}, "", false},
		{"null", map[string]any{"customer_id": nil}, "", false},
	}
	for _, tt := range tests {
		got, ok := CustomerID(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%s: CustomerID = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestVectorRoundTrip(t *testing.T) {
	t.Parallel()

	v, _ := Build(validPayload())
	back, err := FromSlice(v.Slice())
	if err != nil || back != v {
		t.Fatalf("FromSlice(Slice()) = %v, %v", back, err)
	}
	if _, err := FromSlice([]float64{1, 2}); err == nil {
		t.Error("expected length error")
	}
	if v.Map()["daysSinceLastOrder"] != 10 {
		t.Errorf("Map = %v", v.Map())
	}
}

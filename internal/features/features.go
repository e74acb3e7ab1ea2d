// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package features turns a raw request payload into the fixed-order numeric
// vector the predictors were trained on.
//
// The order of Fields is part of the model contract. Reordering it does not
// fail loudly; it silently corrupts every prediction. Vector is an array
// type and is only produced by Build so callers cannot assemble one in a
// different order.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Count is the number of model features.
const Count = 13

// Fields are the request keys in canonical model order.
var Fields = [Count]string{
	"tenure",
	"cityTier",
	"warehouseToHome",
	"gender",
	"hoursSpentOnApp",
	"devicesRegistered",
	"preferredOrderCategory",
	"satisfactionScore",
	"maritalStatus",
	"numberOfAddresses",
	"complaints",
	"orderAmountHike",
	"daysSinceLastOrder",
}

// DisplayNames are the dataset column names used on plots, aligned with Fields.
var DisplayNames = [Count]string{
	"Tenure",
	"CityTier",
	"WarehouseToHome",
	"Gender",
	"HourSpendOnApp",
	"NumberOfDeviceRegistered",
	"PreferedOrderCat",
	"SatisfactionScore",
	"MaritalStatus",
	"NumberOfAddress",
	"Complain",
	"OrderAmountHikeFromlastYear",
	"DaySinceLastOrder",
}

// Vector is one customer's features in Fields order.
type Vector [Count]float64

// Slice returns a copy of v as a slice, for gonum and model code.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Map returns v keyed by request field name.
func (v Vector) Map() map[string]int {
	m := make(map[string]int, Count)
	for i, f := range Fields {
		m[f] = int(v[i])
	}
	return m
}

// FromSlice converts a stored row back into a Vector. It is used for rows
// that were produced by Build earlier, e.g. datasets read from the store.
func FromSlice(xs []float64) (Vector, error) {
	var v Vector
	if len(xs) != Count {
		return v, fmt.Errorf("features: expected %d values, got %d", Count, len(xs))
	}
	copy(v[:], xs)
	return v, nil
}

// Kind classifies a ValidationError.
type Kind int

const (
	// MissingFields means one or more required keys were absent.
	MissingFields Kind = iota + 1
	// NonNumeric means a present value could not be read as an integer.
	NonNumeric
)

func (k Kind) String() string {
	switch k {
	case MissingFields:
		return "missing_fields"
	case NonNumeric:
		return "non_numeric"
	default:
		return "unknown"
	}
}

// ValidationError is returned by Build. For MissingFields, Fields lists every
// absent key in canonical order; for NonNumeric it holds the offending key.
type ValidationError struct {
	Kind   Kind
	Fields []string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingFields:
		return "Missing fields: " + strings.Join(e.Fields, ", ")
	case NonNumeric:
		return fmt.Sprintf("Field '%s' must be an integer", strings.Join(e.Fields, ", "))
	default:
		return "invalid payload"
	}
}

// Build validates payload and returns its feature vector.
//
// Accepted values are integral JSON numbers, numeric strings such as "5",
// and json.Number. Booleans, null and fractional numbers are rejected.
func Build(payload map[string]any) (Vector, error) {
	var v Vector

	var missing []string
	for _, f := range Fields {
		if _, ok := payload[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return v, &ValidationError{Kind: MissingFields, Fields: missing}
	}

	for i, f := range Fields {
		n, ok := toInt(payload[f])
		if !ok {
			return v, &ValidationError{Kind: NonNumeric, Fields: []string{f}}
		}
		v[i] = float64(n)
	}
	return v, nil
}

// Int coerces one value with the same rules Build applies to features.
func Int(raw any) (int, bool) {
	n, ok := toInt(raw)
	return int(n), ok
}

func toInt(raw any) (int64, bool) {
	switch x := raw.(type) {
	case float64:
		return integral(x)
	case float32:
		return integral(float64(x))
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return integral(f)
	default:
		return 0, false
	}
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// 2^63 is the first float64 above math.MaxInt64.
	if f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}

// CustomerID returns the optional business identity of the payload.
// "customer_id" is preferred; the legacy "_id" key is accepted as an alias.
// Integral numbers are formatted without a fractional part.
func CustomerID(payload map[string]any) (string, bool) {
	for _, key := range []string{"customer_id", "_id"} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		switch x := raw.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s, true
			}
		case float64:
			if n, ok := integral(x); ok {
				return strconv.FormatInt(n, 10), true
			}
		case json.Number:
			return x.String(), true
		case int:
			return strconv.Itoa(x), true
		case int64:
			return strconv.FormatInt(x, 10), true
		}
	}
	return "", false
}

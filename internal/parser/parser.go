// Package parser converts raw samples into measured fields.
//
// A sample is either an undecoded JSON object (one line from a serial or
// stdin source) or a key/value map that a transport already decoded (MQTT,
// SNMP, protodelim frames, the synthetic generator). Both paths go through
// the same field rules:
//
//   - missing or null fields are 0
//   - numbers may be JSON numbers or numeric strings
//   - any other type for a known numeric field is a parse error
//   - unknown keys are ignored
//
// Values are not range-checked. Negative or implausible readings pass
// through so the derivation engine can flag them.
package parser

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

// Field names as sent by the devices.
const (
	FieldCOIn                = "co_in"
	FieldCOOut               = "co_out"
	FieldVoltage             = "voltage"
	FieldCurrent             = "current"
	FieldPower               = "power"
	FieldPredictedEfficiency = "predicted_efficiency"
)

// Parse decodes one raw sample.
// Every failure wraps errors.ErrParse.
func Parse(s types.RawSample) (types.Fields, error) {
	if s.Err != nil {
		return types.Fields{}, errors.NewParse("frame: %v", s.Err)
	}

	m := s.Fields
	if m == nil {
		var err error
		if m, err = decodeObject(s.Payload); err != nil {
			return types.Fields{}, err
		}
	}

	return FromMap(m)
}

// FromMap extracts measured fields from a decoded record.
func FromMap(m map[string]any) (types.Fields, error) {
	var f types.Fields
	var err error

	if f.COIn, _, err = number(m, FieldCOIn); err != nil {
		return types.Fields{}, err
	}
	if f.COOut, _, err = number(m, FieldCOOut); err != nil {
		return types.Fields{}, err
	}
	if f.Voltage, _, err = number(m, FieldVoltage); err != nil {
		return types.Fields{}, err
	}
	if f.Current, _, err = number(m, FieldCurrent); err != nil {
		return types.Fields{}, err
	}
	if f.Power, f.HasPower, err = number(m, FieldPower); err != nil {
		return types.Fields{}, err
	}
	if f.PredictedEfficiency, f.HasPredicted, err = number(m, FieldPredictedEfficiency); err != nil {
		return types.Fields{}, err
	}

	return f, nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.NewParse("empty payload")
	}
	if payload[0] != '{' {
		return nil, errors.NewParse("payload is not an object")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, errors.NewParse("decode: %v", err)
	}

	// One sample per payload.
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.NewParse("trailing data after object")
	}

	return m, nil
}

// number reads a numeric field. present is false for missing and null.
func number(m map[string]any, key string) (v float64, present bool, err error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false, nil
	}

	switch x := raw.(type) {
	case json.Number:
		v, err = x.Float64()
		if err != nil {
			return 0, false, errors.NewParse("%s: %v", key, err)
		}
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case string:
		v, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false, errors.NewParse("%s: %q is not a number", key, x)
		}
	default:
		return 0, false, errors.NewParse("%s: unexpected type %T", key, raw)
	}

	return v, true, nil
}

package parser

import (
	"fmt"
	"testing"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

func TestParsePayload(t *testing.T) {
	s := types.RawSample{Payload: []byte(`{"co_in":100,"co_out":80,"voltage":3,"current":280,"power":840}`)}

	f, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.COIn != 100 || f.COOut != 80 || f.Voltage != 3 || f.Current != 280 || f.Power != 840 {
		t.Errorf("unexpected fields: %+v", f)
	}
	if !f.HasPower {
		t.Error("expected HasPower")
	}
	if f.HasPredicted {
		t.Error("expected HasPredicted to be false")
	}
}

func TestParseDefaults(t *testing.T) {
	s := types.RawSample{Payload: []byte(`{"co_in":null,"co_out":12.5,"extra":"ignored"}`)}

	f, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.COIn != 0 {
		t.Errorf("null co_in: expected 0, got %v", f.COIn)
	}
	if f.COOut != 12.5 {
		t.Errorf("co_out: expected 12.5, got %v", f.COOut)
	}
	if f.Voltage != 0 || f.Current != 0 || f.Power != 0 {
		t.Errorf("missing fields should be 0: %+v", f)
	}
	if f.HasPower {
		t.Error("missing power should not be present")
	}
}

func TestParseNumericStrings(t *testing.T) {
	s := types.RawSample{Payload: []byte(`{"co_in":" 42.5 ","predicted_efficiency":"-3"}`)}

	f, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.COIn != 42.5 {
		t.Errorf("co_in: expected 42.5, got %v", f.COIn)
	}
	if !f.HasPredicted || f.PredictedEfficiency != -3 {
		t.Errorf("predicted: expected -3 present, got %+v", f)
	}
}

func TestParseNegativePassesThrough(t *testing.T) {
	f, err := Parse(types.RawSample{Payload: []byte(`{"co_in":-5,"co_out":1e6}`)})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.COIn != -5 || f.COOut != 1e6 {
		t.Errorf("values must not be range-checked: %+v", f)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"array", `[1,2,3]`},
		{"scalar", `42`},
		{"truncated", `{"co_in":1`},
		{"garbage", `co_in=1`},
		{"trailing", `{"co_in":1} {"co_in":2}`},
		{"bool field", `{"co_in":true}`},
		{"object field", `{"voltage":{"v":3}}`},
		{"array field", `{"current":[1]}`},
		{"non numeric string", `{"co_out":"high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(types.RawSample{Payload: []byte(tt.payload)})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestParseDecodedFields(t *testing.T) {
	s := types.RawSample{Fields: map[string]any{
		"co_in":   float64(120),
		"co_out":  int64(30),
		"voltage": uint32(12),
		"current": "1.5",
	}}

	f, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.COIn != 120 || f.COOut != 30 || f.Voltage != 12 || f.Current != 1.5 {
		t.Errorf("unexpected fields: %+v", f)
	}
}

func TestParseFrameError(t *testing.T) {
	_, err := Parse(types.RawSample{Err: fmt.Errorf("bad varint")})
	if !errors.Is(err, errors.ErrParse) {
		t.Errorf("expected ErrParse for frame error, got %v", err)
	}
}

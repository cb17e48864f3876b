package utils

import (
	"strings"
	"testing"
)

type stepInput struct {
	DelayType string `validate:"required,delay_type"`
	DelayUnit string `validate:"required,delay_unit"`
	Channel   string `validate:"required,drip_channel"`
	Value     int    `validate:"min=0"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      stepInput
		wantErr string
	}{
		{"valid", stepInput{"after", "weeks", "both", 2}, ""},
		{"bad channel", stepInput{"after", "days", "fax", 0}, "channel must be email, sms or both"},
		{"bad unit", stepInput{"after", "fortnights", "sms", 0}, "delayunit must be minutes"},
		{"bad type", stepInput{"later", "days", "sms", 0}, "delaytype must be immediate or after"},
		{"negative value", stepInput{"after", "days", "sms", -1}, "value must be at least 0"},
		{"missing", stepInput{}, "delaytype is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseUint(t *testing.T) {
	for in, want := range map[string]uint{"42": 42, "0": 0, "-1": 0, "abc": 0, "": 0} {
		if got := ParseUint(in); got != want {
			t.Fatalf("ParseUint(%q) = %d, want %d", in, got, want)
		}
	}
}

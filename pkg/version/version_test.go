package version

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2.0", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major || v.Minor != tt.minor {
				t.Errorf("Parse(%q) = %d.%d, want %d.%d", tt.input, v.Major, v.Minor, tt.major, tt.minor)
			}
			if v.String() != tt.input {
				t.Errorf("String() = %q, want %q", v.String(), tt.input)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "1", "abc", "1.0.0", "1.x", "-1.0", ".1"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalid", input, err)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	v10, _ := Parse("1.0")
	v11, _ := Parse("1.1")
	v20, _ := Parse("2.0")

	if !v10.Compatible(v11) || !v11.Compatible(v10) {
		t.Error("1.0 and 1.1 should be compatible")
	}
	if v10.Compatible(v20) || v20.Compatible(v10) {
		t.Error("1.0 and 2.0 should NOT be compatible")
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"1.0", true},
		{"1.7", true},
		{"2.0", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.input); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestALPNProtocol(t *testing.T) {
	if got := ALPNProtocol(1); got != "m2m/1" {
		t.Errorf("ALPNProtocol(1) = %q, want %q", got, "m2m/1")
	}
	if got := ALPNProtocol(2); got != "m2m/2" {
		t.Errorf("ALPNProtocol(2) = %q, want %q", got, "m2m/2")
	}
}

func TestMajorFromALPN(t *testing.T) {
	tests := []struct {
		input   string
		want    uint16
		wantErr bool
	}{
		{"m2m/1", 1, false},
		{"m2m/2", 2, false},
		{"http/1.1", 0, true},
		{"m2m/", 0, true},
		{"", 0, true},
		{"m2m/abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := MajorFromALPN(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("MajorFromALPN(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("MajorFromALPN(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestSupportedALPNProtocols(t *testing.T) {
	protos := SupportedALPNProtocols()
	if len(protos) != 1 || protos[0] != "m2m/1" {
		t.Errorf("SupportedALPNProtocols() = %v, want [m2m/1]", protos)
	}
}

func TestCurrent(t *testing.T) {
	v, err := Parse(Current)
	if err != nil {
		t.Fatalf("Parse(Current) returned error: %v", err)
	}
	if v.Major != CurrentMajor {
		t.Errorf("Current major = %d, want %d", v.Major, CurrentMajor)
	}
}

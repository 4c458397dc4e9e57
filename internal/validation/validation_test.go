package validation

import "testing"

func TestIsValidIFSC(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "valid code",
			code:  "HDFC0001234",
			valid: true,
		},
		{
			name:  "letters in branch part",
			code:  "SBIN0ABC123",
			valid: true,
		},
		{
			name:  "fifth character not zero",
			code:  "HDFC1001234",
			valid: false,
		},
		{
			name:  "lower case bank",
			code:  "hdfc0001234",
			valid: false,
		},
		{
			name:  "too short",
			code:  "HDFC000123",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidIFSC(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidIFSC(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidAccountNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "nine digits",
			number: "123456789",
			valid:  true,
		},
		{
			name:   "eighteen digits",
			number: "123456789012345678",
			valid:  true,
		},
		{
			name:   "too short",
			number: "12345678",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "1234a67890",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidAccountNumber(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidAccountNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestIsValidHumanOrderID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "ORD-A1B2C3D4", valid: true},
		{id: "ORD-a1b2c3d4", valid: false},
		{id: "ORD-A1B2C3D", valid: false},
		{id: "XYZ-A1B2C3D4", valid: false},
	}

	for _, tt := range tests {
		if got := IsValidHumanOrderID(tt.id); got != tt.valid {
			t.Fatalf("IsValidHumanOrderID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

package transaction

import "testing"

func TestIsProvisional(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{99, false},
		{100, true},
		{180, true},
		{199, true},
		{200, false},
	}
	for _, tt := range tests {
		if got := IsProvisional(tt.code); got != tt.want {
			t.Errorf("IsProvisional(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsSuccess(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{199, false},
		{200, true},
		{299, true},
		{300, false},
		{486, false},
	}
	for _, tt := range tests {
		if got := IsSuccess(tt.code); got != tt.want {
			t.Errorf("IsSuccess(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{299, false},
		{300, true},
		{486, true},
		{600, true},
	}
	for _, tt := range tests {
		if got := IsFailure(tt.code); got != tt.want {
			t.Errorf("IsFailure(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsFinal(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{100, false},
		{180, false},
		{199, false},
		{200, true},
		{486, true},
	}
	for _, tt := range tests {
		if got := IsFinal(tt.code); got != tt.want {
			t.Errorf("IsFinal(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

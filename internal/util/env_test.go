package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("FLOWDESK_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("FLOWDESK_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("FLOWDESK_TEST_INT", " 42 ")
	if got := ParseIntEnv("FLOWDESK_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("FLOWDESK_TEST_INT", "forty")
	if got := ParseIntEnv("FLOWDESK_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("FLOWDESK_TEST_FLOAT", "2.5")
	if got := ParseFloatEnv("FLOWDESK_TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
	t.Setenv("FLOWDESK_TEST_FLOAT", "")
	if got := ParseFloatEnv("FLOWDESK_TEST_FLOAT", 1); got != 1 {
		t.Errorf("expected default 1, got %v", got)
	}
}

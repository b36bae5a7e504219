package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid ids
		{"uuid", "3f1c9a2e-8b7d-4c6a-9e5f-1a2b3c4d5e6f", false},
		{"slug", "sales-review.q3", false},
		{"colon scoped", "team:alice", false},
		{"max length", strings.Repeat("a", 128), false},

		// Invalid ids
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"slash", "a/b", true},
		{"leading hyphen", "-abc", true},
		{"spaces", "a b", true},
		{"newline", "abc\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSchemaName(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		wantErr bool
	}{
		{"public", "public", false},
		{"underscore", "_staging", false},
		{"dollar", "app$v2", false},
		{"max length", strings.Repeat("s", 63), false},

		{"empty", "", true},
		{"too long", strings.Repeat("s", 64), true},
		{"leading digit", "2024", true},
		{"sql injection", "public; DROP TABLE users--", true},
		{"quoted", `"Public"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaName(tt.schema)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchemaName(%q) error = %v, wantErr %v", tt.schema, err, tt.wantErr)
			}
		})
	}
}

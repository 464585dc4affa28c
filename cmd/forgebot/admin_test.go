package main

import (
	"strings"
	"testing"
)

func TestRunAdminDispatch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no command prints help", nil, ""},
		{"help", []string{"help"}, ""},
		{"unknown command", []string{"reset-password"}, "unknown admin command"},
		{"build-log needs id", []string{"build-log"}, "--id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runAdmin(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAdminConfigRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := loadAdminConfig(t.TempDir() + "/missing.yaml"); err == nil || !strings.Contains(err.Error(), "database") {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

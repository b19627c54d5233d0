package db_test

import (
	"testing"

	"github.com/notifyhub/formsync/internal/db"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/formsync?sslmode=disable", "pgx5://u:p@localhost:5432/formsync?sslmode=disable"},
		{"postgresql://u@db/formsync", "pgx5://u@db/formsync"},
		{"pgx5://u@db/formsync", "pgx5://u@db/formsync"},
	}
	for _, tc := range tests {
		if got := db.MigrationURL(tc.in); got != tc.want {
			t.Fatalf("MigrationURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

package storage

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://localhost/db", "pgx5://localhost/db"},
		{"pgx5://localhost/db", "pgx5://localhost/db"},
		{"host=localhost dbname=db", "host=localhost dbname=db"},
	}
	for _, tt := range tests {
		if got := migrateURL(tt.in); got != tt.want {
			t.Fatalf("migrateURL(%q): got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	t.Parallel()

	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("unpaired migrations: up=%v down=%v", ups, downs)
	}
}

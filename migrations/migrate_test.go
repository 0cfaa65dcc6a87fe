package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestDriverURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db":   "pgx5://u:p@localhost:5432/db",
		"postgresql://u:p@localhost:5432/db": "pgx5://u:p@localhost:5432/db",
		"pgx5://already":                     "pgx5://already",
	}
	for in, want := range cases {
		if got := driverURL(in); got != want {
			t.Fatalf("driverURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmbeddedFilesArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Fatalf("migration %s has no down file", v)
		}
	}
}

func TestNew_MissingURL(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for empty db url")
	}
}

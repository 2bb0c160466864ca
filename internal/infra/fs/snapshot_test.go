package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := map[string]int{"a": 1, "b": 2}
	if err := SaveJSON(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	var out map[string]int
	found, err := LoadJSON(path, &out)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if out["b"] != 2 {
		t.Fatalf("unexpected content: %v", out)
	}
}

func TestLoadJSONMissingAndEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var v map[string]int
	if found, err := LoadJSON(filepath.Join(dir, "missing.json"), &v); found || err != nil {
		t.Fatalf("missing file: found=%v err=%v", found, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if found, err := LoadJSON(empty, &v); found || err != nil {
		t.Fatalf("empty file: found=%v err=%v", found, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadJSON(bad, &v); err == nil {
		t.Fatal("expected parse error")
	}
}

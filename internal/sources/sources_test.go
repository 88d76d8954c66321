package sources

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	list := Defaults()
	if len(list) != 5 {
		t.Fatalf("expected 5 built-in sources, got %d", len(list))
	}
	if err := Validate(list); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if list[1].Selector != "main" || list[3].Selector != "main" {
		t.Fatalf("expected main selector on Cafe Kred and Havnesenteret")
	}
}

func TestLoad_ListAndMapping(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	mapping := filepath.Join(dir, "mapping.yaml")
	if err := os.WriteFile(list, []byte("- url: https://www.cafekred.no/arrangementer\n  name: Cafe Kred\n  selector: main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mapping, []byte("sources:\n  - url: https://www.havnesenteret.no/dette-skjer\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(list)
	if err != nil || len(got) != 1 || got[0].Selector != "main" {
		t.Fatalf("list form: %+v %v", got, err)
	}
	got, err = Load(mapping)
	if err != nil || len(got) != 1 || got[0].Name != "www.havnesenteret.no" {
		t.Fatalf("mapping form: %+v %v", got, err)
	}
}

func TestValidate_Errors(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	if err := Validate([]Source{{URL: "ftp://x"}}); err == nil {
		t.Fatalf("expected scheme error")
	}
	dup := []Source{{URL: "https://a.no/"}, {URL: "https://a.no/"}}
	if err := Validate(dup); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestAdhoc(t *testing.T) {
	got := Adhoc(" https://example.no/kalender ", "")
	if len(got) != 1 || got[0].Name != "https://example.no/kalender" || got[0].Selector != "" {
		t.Fatalf("unexpected %+v", got)
	}
}

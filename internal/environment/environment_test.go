package environment

import (
	"path/filepath"
	"testing"
)

func TestPyvenvCfgRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyvenv.cfg")

	cfg := PyvenvConfig{
		Home:                      "/usr/bin",
		Version:                   "3.11.4",
		Prompt:                    "myproject",
		IncludeSystemSitePackages: true,
		ExtendsEnvironment:        "/envs/base",
	}
	if err := writePyvenvCfg(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := readPyvenvCfg(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != cfg {
		t.Fatalf("got %+v, want %+v", got, cfg)
	}
}

func TestReadPyvenvCfgMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := readPyvenvCfg(filepath.Join(dir, "pyvenv.cfg")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestInspectEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	status, interp := inspect(nil, dir, Request{})
	if status != InvalidEmpty {
		t.Fatalf("got status %v", status)
	}
	if interp != nil {
		t.Fatal("expected nil interpreter")
	}
}

func TestInspectNonexistentDirectory(t *testing.T) {
	status, _ := inspect(nil, filepath.Join(t.TempDir(), "missing"), Request{})
	if status != InvalidEmpty {
		t.Fatalf("got status %v", status)
	}
}

func TestInspectNonEmptyWithoutPyvenvCfg(t *testing.T) {
	dir := t.TempDir()
	if err := writePyvenvCfg(filepath.Join(dir, "not-a-cfg.txt"), PyvenvConfig{}); err != nil {
		t.Fatal(err)
	}
	status, _ := inspect(nil, dir, Request{})
	if status != InvalidPyvenvMissing {
		t.Fatalf("got status %v", status)
	}
}

func TestReplaceEnvironmentRefusesNonVenvDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := writePyvenvCfg(filepath.Join(dir, "data.txt"), PyvenvConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := replaceEnvironment(dir); err == nil {
		t.Fatal("expected refusal to delete non-virtualenv directory")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		Existing:     "existing",
		Replaced:     "replaced",
		Created:      "created",
		WouldReplace: "would-replace",
		WouldCreate:  "would-create",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}

package rundispatch

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyStdin(t *testing.T) {
	cmd, err := Classify("-", []string{"a"}, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindStdinScript {
		t.Fatalf("got %v", cmd.Kind)
	}
}

func TestClassifyRemoteScript(t *testing.T) {
	cmd, err := Classify("https://example.com/install.py", nil, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindRemoteScript {
		t.Fatalf("got %v", cmd.Kind)
	}
}

func TestClassifyModuleFlag(t *testing.T) {
	cmd, err := Classify("ignored", []string{"x"}, Flags{Module: "http.server"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindModule || cmd.Executable != "http.server" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestClassifyBarePython(t *testing.T) {
	cmd, err := Classify("python", []string{"-c", "print(1)"}, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindBarePython {
		t.Fatalf("got %v", cmd.Kind)
	}
}

func TestClassifyScriptSuffix(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.py")
	if err := os.WriteFile(script, []byte("print(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, err := Classify(script, nil, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindScript {
		t.Fatalf("got %v", cmd.Kind)
	}
}

func TestClassifyGUIScriptSuffix(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.pyw")
	if err := os.WriteFile(script, []byte("print(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, err := Classify(script, nil, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindGUIScript || !cmd.IsGUI {
		t.Fatalf("got %+v", cmd)
	}
}

func TestClassifyPackageDirectory(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "mypkg")
	if err := os.MkdirAll(pkg, 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkg, "__main__.py"), []byte("print(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, err := Classify(pkg, nil, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindPackage {
		t.Fatalf("got %v", cmd)
	}
}

func TestClassifyZipapp(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "app.pyz")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("__main__.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("print(1)\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cmd, err := Classify(archivePath, nil, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind != KindZipapp {
		t.Fatalf("got %v", cmd)
	}
}

func TestClassifyExternalCommandNotFound(t *testing.T) {
	_, err := Classify("definitely-not-a-real-command-xyz", nil, Flags{})
	if err == nil {
		t.Fatal("expected error for missing external command")
	}
}

func TestNextRecursionDepthGuard(t *testing.T) {
	t.Setenv(recursionDepthEnv, "10")
	if _, err := nextRecursionDepth(); err == nil {
		t.Fatal("expected recursion depth guard to fire")
	}
}

func TestNextRecursionDepthIncrements(t *testing.T) {
	t.Setenv(recursionDepthEnv, "2")
	depth, err := nextRecursionDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 3 {
		t.Fatalf("got %d", depth)
	}
}

func TestPrependPath(t *testing.T) {
	env := []string{"PATH=/usr/bin", "HOME=/root"}
	out := prependPath(env, []string{"/overlay/bin"})
	found := false
	for _, kv := range out {
		if kv == "PATH=/overlay/bin"+string(os.PathListSeparator)+"/usr/bin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("got %v", out)
	}
}

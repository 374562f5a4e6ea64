package pathutil

import "testing"

func TestRelativeTo(t *testing.T) {
	cases := []struct {
		path, base, want string
	}{
		{"/home/a/lib/python/site-packages/foo/__init__.py", "/home/a/lib/python/site-packages", "foo/__init__.py"},
		{"/home/a/bin/x", "/home/a/lib/python/site-packages", "../../../bin/x"},
	}

	for _, c := range cases {
		got, err := RelativeTo(c.path, c.base)
		if err != nil {
			t.Fatalf("RelativeTo(%q, %q): %v", c.path, c.base, err)
		}
		if got != c.want {
			t.Errorf("RelativeTo(%q, %q) = %q, want %q", c.path, c.base, got, c.want)
		}
	}
}

func TestNormalizeAbsoluteRejectsEscape(t *testing.T) {
	_, err := NormalizeAbsolute("/a/../../c/d")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*ErrInvalidInput); !ok {
		t.Fatalf("expected ErrInvalidInput, got %T: %v", err, err)
	}
}

func TestNormalizeAbsoluteNoDotDot(t *testing.T) {
	out, err := NormalizeAbsolute("/a/./b/../c")
	if err != nil {
		t.Fatal(err)
	}
	if out != "/a/c" {
		t.Fatalf("got %q", out)
	}
}

func TestNormalizeEmptyIsDot(t *testing.T) {
	if Normalize("") != "." {
		t.Fatalf("expected '.'")
	}
}

func TestFileURLRoundTrip(t *testing.T) {
	u, err := PathToFileURL("/tmp/foo/bar.whl")
	if err != nil {
		t.Fatal(err)
	}
	p, err := FileURLToPath(u)
	if err != nil {
		t.Fatal(err)
	}
	if p != "/tmp/foo/bar.whl" {
		t.Fatalf("got %q", p)
	}
}

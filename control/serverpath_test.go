package control

import "testing"

func TestServerPathUnix(t *testing.T) {
	p, ok := NewServerPath(ServerTypeUnix, "/home/user/")
	if !ok {
		t.Fatal("parse failed")
	}
	if p.String() != "/home/user" {
		t.Errorf("normalized = %q", p.String())
	}
	if p.FormatFilename("file.txt") != "/home/user/file.txt" {
		t.Errorf("FormatFilename = %q", p.FormatFilename("file.txt"))
	}
}

func TestServerPathUnixRejectsRelative(t *testing.T) {
	if _, ok := NewServerPath(ServerTypeUnix, "relative/path"); ok {
		t.Error("relative path accepted")
	}
	if _, ok := NewServerPath(ServerTypeUnix, ""); ok {
		t.Error("empty path accepted")
	}
}

func TestServerPathRoot(t *testing.T) {
	p, ok := NewServerPath(ServerTypeUnix, "/")
	if !ok || p.String() != "/" {
		t.Fatalf("root parse: %q %v", p.String(), ok)
	}
	if p.FormatFilename("f") != "/f" {
		t.Errorf("FormatFilename at root = %q", p.FormatFilename("f"))
	}
}

func TestServerPathDOS(t *testing.T) {
	p, ok := NewServerPath(ServerTypeDOS, `C:\data\incoming\`)
	if !ok {
		t.Fatal("parse failed")
	}
	if p.String() != `C:\data\incoming` {
		t.Errorf("normalized = %q", p.String())
	}
	if p.FormatFilename("a.zip") != `C:\data\incoming\a.zip` {
		t.Errorf("FormatFilename = %q", p.FormatFilename("a.zip"))
	}

	if _, ok := NewServerPath(ServerTypeDOS, "no-drive"); ok {
		t.Error("driveless DOS path accepted")
	}
}

func TestServerPathDOSDrive(t *testing.T) {
	p, ok := NewServerPath(ServerTypeDOS, "D:")
	if !ok || p.String() != `D:\` {
		t.Fatalf("drive parse: %q %v", p.String(), ok)
	}
}

func TestServerPathIsParentOf(t *testing.T) {
	parent := mustPath(t, "/home")
	child := mustPath(t, "/home/user/deep")
	sibling := mustPath(t, "/homestead")

	if !parent.IsParentOf(child) {
		t.Error("parent not detected")
	}
	if parent.IsParentOf(sibling) {
		t.Error("sibling with common prefix misdetected as child")
	}
	if child.IsParentOf(parent) {
		t.Error("inverted relation detected")
	}
	if parent.IsParentOf(parent) {
		t.Error("path is not its own parent")
	}
}

func TestServerPathEqual(t *testing.T) {
	a := mustPath(t, "/x/y")
	b := mustPath(t, "/x/y/")
	if !a.Equal(b) {
		t.Error("normalization must make these equal")
	}
}

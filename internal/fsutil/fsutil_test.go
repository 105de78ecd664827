package fsutil

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestReadFileScoped(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return path
	}

	t.Run("reads file contents", func(t *testing.T) {
		path := write("wf-a.json", []byte(`{"id":"wf-a"}`))
		got, err := ReadFileScoped(path)
		if err != nil {
			t.Fatalf("ReadFileScoped: %v", err)
		}
		if string(got) != `{"id":"wf-a"}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := write("empty.json", nil)
		got, err := ReadFileScoped(path)
		if err != nil {
			t.Fatalf("ReadFileScoped: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty, got %d bytes", len(got))
		}
	})

	t.Run("binary content", func(t *testing.T) {
		data := []byte{0x00, 0xff, 0x1b, 0x00, 0x7f}
		path := write("blob.bin", data)
		got, err := ReadFileScoped(path)
		if err != nil {
			t.Fatalf("ReadFileScoped: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("got %x, want %x", got, data)
		}
	})

	t.Run("nested path", func(t *testing.T) {
		path := write(filepath.Join("bindings", "sess-1.json"), []byte("wf-1"))
		got, err := ReadFileScoped(path)
		if err != nil {
			t.Fatalf("ReadFileScoped: %v", err)
		}
		if string(got) != "wf-1" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unnormalized path", func(t *testing.T) {
		write("rules.yaml", []byte("workflows: {}"))
		messy := filepath.Join(dir, "bindings", "..", "rules.yaml")
		got, err := ReadFileScoped(messy)
		if err != nil {
			t.Fatalf("ReadFileScoped: %v", err)
		}
		if string(got) != "workflows: {}" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("nonexistent file", func(t *testing.T) {
		_, err := ReadFileScoped(filepath.Join(dir, "missing.json"))
		if !os.IsNotExist(err) {
			t.Errorf("expected not-exist, got %v", err)
		}
	})

	t.Run("nonexistent directory", func(t *testing.T) {
		_, err := ReadFileScoped(filepath.Join(dir, "nope", "missing.json"))
		if !os.IsNotExist(err) {
			t.Errorf("expected not-exist, got %v", err)
		}
	})

	t.Run("directory as path", func(t *testing.T) {
		sub := filepath.Join(dir, "markers")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if _, err := ReadFileScoped(sub); err == nil {
			t.Error("expected error reading a directory")
		}
	})

	t.Run("root path rejected", func(t *testing.T) {
		if _, err := ReadFileScoped(string(filepath.Separator)); err == nil {
			t.Error("expected error for bare root")
		}
	})

	t.Run("symlink out of directory refused", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		outside := write(filepath.Join("..", "outside.txt"), []byte("secret"))
		link := filepath.Join(dir, "escape.json")
		if err := os.Symlink(outside, link); err != nil {
			t.Fatalf("symlink: %v", err)
		}
		if _, err := ReadFileScoped(link); err == nil {
			t.Error("expected symlink escape to be refused")
		}
	})
}

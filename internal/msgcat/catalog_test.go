package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := MustDefault()
	if got := c.Text("move.not_your_turn", nil); got != "Not your turn" {
		t.Fatalf("move.not_your_turn = %q", got)
	}
	got, err := c.Render("cmd.unknown", map[string]string{"Cmd": "dance"})
	if err != nil || got != "Unknown cmd dance" {
		t.Fatalf("cmd.unknown = %q, %v", got, err)
	}
	if _, err := c.Render("cmd.unknown", map[string]string{}); err == nil {
		t.Fatal("missing template field should error")
	}
	if got := c.Text("no.such.key", nil); got != "no.such.key" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("move:\n  not_your_turn: \"Wait for {{.Name}}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("move.not_your_turn", map[string]string{"Name": "bob"}); got != "Wait for bob" {
		t.Fatalf("override = %q", got)
	}
	if got := c.Text("game.not_found", nil); got != "No such game" {
		t.Fatalf("default lost: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("move:\n  not_your_turn: dup\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatal("duplicate keys across override files should fail")
	}
}

func TestNonStringLeafRejected(t *testing.T) {
	if _, err := parseYAMLToFlat([]byte("a:\n  b: 3\n")); err == nil {
		t.Fatal("numeric leaf should be rejected")
	}
}

package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := MustDefault()
	got, err := c.Render(KeyLobbyWaiting, map[string]any{"TournamentID": "t1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Waiting for an opponent in tournament t1..." {
		t.Fatalf("unexpected text %q", got)
	}
	for _, k := range []string{KeyMatchFailure} {
		if _, err := c.Render(k, nil); err != nil {
			t.Fatalf("Render(%s): %v", k, err)
		}
	}
}

func TestMissingFieldFallsBack(t *testing.T) {
	c := MustDefault()
	got, err := c.Render(KeyMatchForfeit, map[string]any{"ParticipantID": "p1"})
	if err != nil || got != "p1 did not return in time and forfeits the match." {
		t.Fatalf("Render(forfeit) = %q, %v", got, err)
	}
	if _, err := c.Render(KeyMatchForfeit, map[string]any{"MatchID": "m1"}); err == nil {
		t.Fatalf("expected missingkey error")
	}
	if got := c.Text(KeyMatchForfeit, "ready", map[string]any{}); got != "ready" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := c.Text("no.such.key", "fb", nil); got != "fb" {
		t.Fatalf("expected fallback, got %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text(KeyMatchFailure, "fb", nil); got != "fb" {
		t.Fatalf("nil catalog should fall back, got %q", got)
	}
}

func TestOverrides(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("10-lobby.yaml", "lobby:\n  waiting: \"hold on\"\n")
	write("notes.txt", "ignored")

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text(KeyLobbyWaiting, "", nil); got != "hold on" {
		t.Fatalf("override not applied, got %q", got)
	}
	if got := c.Text(KeyMatchFailure, "", nil); got == "" {
		t.Fatalf("defaults should survive overrides")
	}

	write("20-dup.yml", "lobby:\n  waiting: \"again\"\n")
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestBrokenTemplateFailsAtLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("match:\n  failure: \"{{.Oops\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

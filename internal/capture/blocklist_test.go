package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/store"
)

func TestBlocklist(t *testing.T) {
	b := NewBlocklist()
	b.LoadRules([]store.BlockRule{
		{Kind: "app", Pattern: "1Password"},
		{Kind: "title", Pattern: "Incognito"},
	})

	t.Run("matches app by case-insensitive substring", func(t *testing.T) {
		if !b.Blocked("1password 8", "Vault") {
			t.Fatal("expected app match")
		}
	})

	t.Run("matches title by case-insensitive substring", func(t *testing.T) {
		if !b.Blocked("Chrome", "New Tab - INCOGNITO") {
			t.Fatal("expected title match")
		}
	})

	t.Run("does not cross-match kinds", func(t *testing.T) {
		// "Incognito" is a title rule; an app with that name passes.
		if b.Blocked("Incognito", "Editor") {
			t.Fatal("title pattern must not match app names")
		}
	})

	t.Run("allows unmatched frames", func(t *testing.T) {
		if b.Blocked("Terminal", "~/projects") {
			t.Fatal("expected frame to be allowed")
		}
	})

	t.Run("LoadRules replaces previous rules", func(t *testing.T) {
		b.LoadRules([]store.BlockRule{{Kind: "app", Pattern: "KeePass"}})
		if b.Blocked("1password 8", "Vault") {
			t.Fatal("old rule should be gone after reload")
		}
		if !b.Blocked("KeePassXC", "Database") {
			t.Fatal("new rule should be active")
		}
	})
}

func TestBlocklistLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.yaml")
	content := "apps:\n  - Bitwarden\ntitles:\n  - Private Browsing\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write blocklist file: %v", err)
	}

	b := NewBlocklist()
	b.LoadRules([]store.BlockRule{{Kind: "app", Pattern: "1Password"}})
	if err := b.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	// File rules merge with existing rules rather than replacing them.
	if !b.Blocked("1Password", "") {
		t.Fatal("expected existing rule to survive the merge")
	}
	if !b.Blocked("Bitwarden", "") {
		t.Fatal("expected app rule from file")
	}
	if !b.Blocked("Firefox", "Private Browsing - Mozilla Firefox") {
		t.Fatal("expected title rule from file")
	}

	if err := b.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBlocklistFileRulesSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.yaml")
	content := "apps:\n  - 1Password\ntitles:\n  - Private Browsing\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write blocklist file: %v", err)
	}

	b := NewBlocklist()
	if err := b.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	// Editing persisted rules reloads them, as the HTTP handlers do.
	// File-sourced rules must keep blocking afterwards.
	b.LoadRules([]store.BlockRule{{Kind: "title", Pattern: "Incognito"}})

	if !b.Blocked("1Password 8", "") {
		t.Fatal("file app rule must survive a rule reload")
	}
	if !b.Blocked("Firefox", "Private Browsing - Mozilla Firefox") {
		t.Fatal("file title rule must survive a rule reload")
	}
	if !b.Blocked("Chrome", "New Tab - Incognito") {
		t.Fatal("reloaded store rule must be active")
	}

	b.LoadRules(nil)
	if !b.Blocked("1Password 8", "") {
		t.Fatal("clearing store rules must not clear file rules")
	}
}

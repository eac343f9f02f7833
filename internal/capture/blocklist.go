package capture

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/internal/store"
)

// Blocklist suppresses capture for sensitive apps and window titles.
// Matching is case-insensitive substring on both kinds. Rules sourced
// from the store and rules sourced from a file are tracked separately
// so reloading one never drops the other.
type Blocklist struct {
	mu         sync.RWMutex
	apps       []string
	titles     []string
	fileApps   []string
	fileTitles []string
}

func NewBlocklist() *Blocklist {
	return &Blocklist{}
}

// blockFile is the YAML shape of an on-disk block-list file.
type blockFile struct {
	Apps   []string `yaml:"apps"`
	Titles []string `yaml:"titles"`
}

// LoadFile merges rules from a YAML file into the list.
func (b *Blocklist) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read blocklist file: %w", err)
	}
	var f blockFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse blocklist file: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fileApps = append(b.fileApps, f.Apps...)
	b.fileTitles = append(b.fileTitles, f.Titles...)
	return nil
}

// LoadRules replaces the store-sourced rules. File-sourced rules survive.
func (b *Blocklist) LoadRules(rules []store.BlockRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apps = b.apps[:0]
	b.titles = b.titles[:0]
	for _, r := range rules {
		switch r.Kind {
		case "app":
			b.apps = append(b.apps, r.Pattern)
		case "title":
			b.titles = append(b.titles, r.Pattern)
		}
	}
}

// Blocked reports whether a frame from the given app and window title must
// not be captured.
func (b *Blocklist) Blocked(appName, windowTitle string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	app := strings.ToLower(appName)
	title := strings.ToLower(windowTitle)
	for _, list := range [][]string{b.apps, b.fileApps} {
		for _, p := range list {
			if strings.Contains(app, strings.ToLower(p)) {
				return true
			}
		}
	}
	for _, list := range [][]string{b.titles, b.fileTitles} {
		for _, p := range list {
			if strings.Contains(title, strings.ToLower(p)) {
				return true
			}
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// MaxTemplateFileSize bounds a single prompt file (1MB).
const MaxTemplateFileSize = 1024 * 1024

const templateSuffix = "_prompts.yaml"

//go:embed templates/*.yaml
var embeddedTemplates embed.FS

// StaticTier serves prompts from {agent}_prompts.yaml documents.
//
// # Description
//
// The embedded templates are always loaded. When an override directory is
// configured, files found there replace the embedded document for the same
// agent. Watch reloads the directory when files change.
//
// # Limitations
//
//   - Only scalar leaves are returned; mapping or sequence nodes are
//     reported as ErrNotFound.
type StaticTier struct {
	dir string

	mu   sync.RWMutex
	docs map[string]*yaml.Node
}

// NewStaticTier loads the embedded templates and, if dir is non-empty, the
// override files in dir.
func NewStaticTier(dir string) (*StaticTier, error) {
	t := &StaticTier{dir: dir}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Name implements Tier.
func (t *StaticTier) Name() string { return "static" }

// Lookup implements Tier.
//
// The prompt key selects a top-level entry; the sub-key, if present, is a
// dotted path into it (for example "data_analyst.backstory").
func (t *StaticTier) Lookup(_ context.Context, key Key) (string, error) {
	t.mu.RLock()
	doc, ok := t.docs[key.Agent]
	t.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	path := []string{key.Prompt}
	if key.Sub != "" {
		path = append(path, strings.Split(key.Sub, ".")...)
	}
	node := lookupNode(doc, path)
	if node == nil || node.Kind != yaml.ScalarNode {
		return "", ErrNotFound
	}
	return node.Value, nil
}

// Agents returns the agent names with a loaded document.
func (t *StaticTier) Agents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.docs))
	for a := range t.docs {
		out = append(out, a)
	}
	return out
}

// Watch reloads the override directory whenever a file in it is written
// or created. It blocks until ctx is done. Without an override directory it
// returns immediately.
func (t *StaticTier) Watch(ctx context.Context) error {
	if t.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(t.dir); err != nil {
		return fmt.Errorf("watch %s: %w", t.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, templateSuffix) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := t.reload(); err != nil {
				slog.Warn("Prompt reload failed, keeping previous templates", "error", err)
				continue
			}
			slog.Info("Prompt templates reloaded", "trigger", ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Prompt watcher error", "error", err)
		}
	}
}

func (t *StaticTier) reload() error {
	docs := make(map[string]*yaml.Node)
	if err := loadTemplates(embeddedTemplates, "templates", docs); err != nil {
		return fmt.Errorf("load embedded prompts: %w", err)
	}
	if t.dir != "" {
		if _, err := os.Stat(t.dir); err == nil {
			if err := loadTemplates(os.DirFS(t.dir), ".", docs); err != nil {
				return fmt.Errorf("load prompts from %s: %w", t.dir, err)
			}
		} else {
			slog.Warn("Prompt override directory not found, using embedded templates", "dir", t.dir)
		}
	}

	t.mu.Lock()
	t.docs = docs
	t.mu.Unlock()
	return nil
}

func loadTemplates(fsys fs.FS, root string, into map[string]*yaml.Node) error {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*"+templateSuffix)))
	if err != nil {
		return err
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > MaxTemplateFileSize {
			return fmt.Errorf("%s exceeds %d bytes", name, MaxTemplateFileSize)
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		agent := strings.TrimSuffix(filepath.Base(name), templateSuffix)
		into[agent] = &doc
	}
	return nil
}

// lookupNode walks mapping nodes along path.
func lookupNode(n *yaml.Node, path []string) *yaml.Node {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	for _, part := range path {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

var _ Tier = (*StaticTier)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/SecureRAG/services/secureqa/security/enforcement"
)

// RuleSourceConfig configures where the security rule sets come from.
//
// Empty paths mean the embedded defaults. When a path is set, the file is
// loaded at startup and, if Watch is running, hot-reloaded on change. A file
// that fails to load on reload keeps the previous rule set: a bad edit must
// never leave the service running with no rules.
type RuleSourceConfig struct {
	PIIRulesPath       string
	InjectionRulesPath string
	Strictness         Strictness
}

// RuleSource owns the live Sanitizer and InjectionGuard instances.
//
// Rule sets are immutable once compiled; a reload builds fresh instances and
// swaps them in atomically, so in-flight requests keep the set they started
// with and concurrent readers never see a partially loaded set.
type RuleSource struct {
	cfg       RuleSourceConfig
	sanitizer atomic.Pointer[Sanitizer]
	guard     atomic.Pointer[InjectionGuard]
	watcher   *fsnotify.Watcher
}

// NewRuleSource loads both rule sets (from disk where configured, otherwise
// the embedded defaults) and returns a ready source.
func NewRuleSource(cfg RuleSourceConfig) (*RuleSource, error) {
	s := &RuleSource{cfg: cfg}
	if err := s.reloadPII(); err != nil {
		return nil, err
	}
	if err := s.reloadInjection(); err != nil {
		return nil, err
	}
	return s, nil
}

// Sanitizer returns the current sanitizer. The returned instance is
// immutable; callers may use it for the whole request.
func (s *RuleSource) Sanitizer() *Sanitizer {
	return s.sanitizer.Load()
}

// Guard returns the current injection guard.
func (s *RuleSource) Guard() *InjectionGuard {
	return s.guard.Load()
}

func (s *RuleSource) reloadPII() error {
	data := enforcement.PIIPatterns
	if s.cfg.PIIRulesPath != "" {
		fileData, err := os.ReadFile(s.cfg.PIIRulesPath)
		if err != nil {
			return fmt.Errorf("failed to read the PII rule file %s: %w", s.cfg.PIIRulesPath, err)
		}
		data = fileData
	}
	rules, err := LoadPIIRules(data)
	if err != nil {
		return err
	}
	s.sanitizer.Store(NewSanitizer(rules))
	slog.Info("Loaded PII detector set", "detectors", len(rules.Detectors),
		"source", sourceName(s.cfg.PIIRulesPath))
	return nil
}

func (s *RuleSource) reloadInjection() error {
	data := enforcement.InjectionRules
	if s.cfg.InjectionRulesPath != "" {
		fileData, err := os.ReadFile(s.cfg.InjectionRulesPath)
		if err != nil {
			return fmt.Errorf("failed to read the injection rule file %s: %w", s.cfg.InjectionRulesPath, err)
		}
		data = fileData
	}
	rules, err := LoadInjectionRules(data)
	if err != nil {
		return err
	}
	s.guard.Store(NewInjectionGuard(rules, s.cfg.Strictness))
	slog.Info("Loaded injection rule set", "rules", len(rules.Rules),
		"strictness", string(s.cfg.Strictness),
		"source", sourceName(s.cfg.InjectionRulesPath))
	return nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// Watch hot-reloads rule files on change until ctx is cancelled. It is a
// no-op when both rule sets are embedded. Reload failures are logged and the
// previous rule set stays active.
func (s *RuleSource) Watch(ctx context.Context) error {
	paths := make(map[string]func() error)
	if s.cfg.PIIRulesPath != "" {
		paths[filepath.Clean(s.cfg.PIIRulesPath)] = s.reloadPII
	}
	if s.cfg.InjectionRulesPath != "" {
		paths[filepath.Clean(s.cfg.InjectionRulesPath)] = s.reloadInjection
	}
	if len(paths) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create the rule file watcher: %w", err)
	}
	s.watcher = watcher

	// Watch the parent directories: editors commonly replace files via
	// rename, which drops a watch placed on the file itself.
	dirs := make(map[string]struct{})
	for path := range paths {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch the rule directory %s: %w", dir, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				reload, tracked := paths[filepath.Clean(event.Name)]
				if !tracked || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if err := reload(); err != nil {
					slog.Error("Rule reload failed, keeping previous rule set",
						"file", event.Name, "error", err)
					continue
				}
				slog.Info("Rule set hot-reloaded", "file", event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Rule file watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads declarative policy files for the CLI.
//
// A policy file is YAML, JSON, or JSONC (JSON with comments); the
// format is chosen by extension. Loading produces the raw input shape
// from the policy package — schema-level validation happens in
// [policy.Input.Normalize], not here.
//
// The file is specified by the --policy flag or the CORRAL_POLICY
// environment variable. There is no discovery and no fallback chain;
// configuration is deterministic and auditable.
//
// [Watch] re-reads the file on every filesystem change, feeding the
// live-reconfiguration path of a running proxy.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/corral-foundation/corral/policy"
)

// EnvVar names the environment variable consulted when no path is
// given explicitly.
const EnvVar = "CORRAL_POLICY"

// Load reads and parses a policy file. An empty path falls back to
// CORRAL_POLICY.
func Load(path string) (*policy.Input, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, errors.New("no policy file: pass --policy or set " + EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Strip comments and trailing commas; yaml.Unmarshal accepts
		// the remaining strict JSON.
		data = jsonc.ToJSON(data)
	}

	var input policy.Input
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return &input, nil
}

// Watch reloads the policy file on every change and invokes onChange
// with the parsed input. Parse failures are reported through onError
// and the previous policy stays in force. Returns a stop function.
func Watch(path string, onChange func(*policy.Input), onError func(error)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch policy file: %w", err)
	}

	// Watch the directory rather than the file: editors replace files
	// by rename, which drops a direct file watch.
	directory := filepath.Dir(path)
	if err := watcher.Add(directory); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", directory, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				input, loadErr := Load(path)
				if loadErr != nil {
					if onError != nil {
						onError(loadErr)
					}
					continue
				}
				onChange(input)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(watchErr)
				}
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storagepath

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OverrideFileName is the default override document name.
const OverrideFileName = "storage-path-overrides.yaml"

// overrideVersion is written into every override document.
const overrideVersion = 1

type overrideDocument struct {
	Version  int `yaml:"version"`
	Override `yaml:",inline"`
}

// PathError wraps failures reading or writing the override document.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("storage paths %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// Resolver loads the active layout and persists overrides.
//
// # Thread Safety
//
// Load and SaveOverride may be called concurrently; the override document is
// replaced atomically, so a reader sees either the old or the new document.
type Resolver struct {
	defaults     Paths
	overridePath string
}

// NewResolver creates a resolver with the given defaults whose override
// document lives at overridePath.
func NewResolver(defaults Paths, overridePath string) *Resolver {
	return &Resolver{defaults: defaults, overridePath: overridePath}
}

// OverridePath returns the location of the override document.
func (r *Resolver) OverridePath() string {
	return r.overridePath
}

// Load resolves the active layout and creates every active directory.
//
// # Outputs
//
//   - State: The resolved layout.
//   - error: *PathError if the override document is unreadable or a
//     directory cannot be created. A missing document is not an error.
func (r *Resolver) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	override, err := r.LoadOverride()
	if err != nil {
		return State{}, err
	}
	state := Resolve(r.defaults, override)
	for _, c := range Categories {
		if err := os.MkdirAll(state.Active[c], 0o750); err != nil {
			return State{}, &PathError{Op: "create", Path: state.Active[c], Err: err}
		}
	}
	return state, nil
}

// LoadOverride reads the override document.
func (r *Resolver) LoadOverride() (Override, error) {
	data, err := os.ReadFile(r.overridePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Override{}, nil
	}
	if err != nil {
		return Override{}, &PathError{Op: "read", Path: r.overridePath, Err: err}
	}
	var doc overrideDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Override{}, &PathError{Op: "parse", Path: r.overridePath, Err: err}
	}
	return doc.Override.Normalize(), nil
}

// SaveOverride normalizes and persists o, replacing the previous document.
func (r *Resolver) SaveOverride(ctx context.Context, o Override) (Override, error) {
	if err := ctx.Err(); err != nil {
		return Override{}, err
	}
	normalized := o.Normalize()
	data, err := yaml.Marshal(overrideDocument{Version: overrideVersion, Override: normalized})
	if err != nil {
		return Override{}, &PathError{Op: "encode", Path: r.overridePath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(r.overridePath), 0o750); err != nil {
		return Override{}, &PathError{Op: "write", Path: r.overridePath, Err: err}
	}
	tmp := r.overridePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return Override{}, &PathError{Op: "write", Path: r.overridePath, Err: err}
	}
	if err := os.Rename(tmp, r.overridePath); err != nil {
		_ = os.Remove(tmp)
		return Override{}, &PathError{Op: "write", Path: r.overridePath, Err: err}
	}
	return normalized, nil
}

// SetCustomRoot persists root as the custom root. A pinned models directory
// is dropped so that the new root takes effect for models; other category
// overrides are kept.
func (r *Resolver) SetCustomRoot(ctx context.Context, root string) (Override, error) {
	current, err := r.LoadOverride()
	if err != nil {
		return Override{}, err
	}
	current.CustomRoot = root
	delete(current.CategoryOverrides, CategoryModels)
	return r.SaveOverride(ctx, current)
}

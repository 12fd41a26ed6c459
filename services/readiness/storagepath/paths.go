// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagepath resolves where models, config, tools and logs live,
// and persists the user's override of those locations.
//
// # Description
//
// Every category has a default directory. An override may set a custom root
// (each category becomes "<root>/<category>") and may pin individual
// categories. Resolution order per category is: category override, then
// custom root, then default.
package storagepath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors.
var (
	// ErrEmptyCustomRoot is returned by NormalizeCustomRoot for blank input.
	ErrEmptyCustomRoot = errors.New("custom root must not be empty")

	// ErrRelativeCustomRoot is returned for roots that are not absolute.
	ErrRelativeCustomRoot = errors.New("custom root must be an absolute path")
)

// Category is a logical storage location.
type Category string

const (
	CategoryModels Category = "models"
	CategoryConfig Category = "config"
	CategoryTools  Category = "tools"
	CategoryLogs   Category = "logs"
)

// Categories lists every category in resolution order.
var Categories = []Category{CategoryModels, CategoryConfig, CategoryTools, CategoryLogs}

// Paths maps each category to an absolute directory.
type Paths map[Category]string

// Models returns the model root.
func (p Paths) Models() string {
	return p[CategoryModels]
}

// Defaults returns the default layout under baseDir.
func Defaults(baseDir string) Paths {
	return Paths{
		CategoryModels: filepath.Join(baseDir, "models"),
		CategoryConfig: filepath.Join(baseDir, "config"),
		CategoryTools:  filepath.Join(baseDir, "tools"),
		CategoryLogs:   filepath.Join(baseDir, "logs"),
	}
}

// Override is the persisted user choice.
type Override struct {
	CustomRoot        string              `yaml:"custom_root,omitempty" json:"customRoot,omitempty"`
	CategoryOverrides map[Category]string `yaml:"category_overrides,omitempty" json:"categoryOverrides,omitempty"`
}

// State is a resolved layout.
type State struct {
	Defaults Paths    `json:"defaults"`
	Active   Paths    `json:"active"`
	Override Override `json:"override"`
}

// Normalize trims and cleans every path in o and drops blank or unknown
// category entries.
func (o Override) Normalize() Override {
	out := Override{CustomRoot: cleanOrEmpty(o.CustomRoot)}
	for _, c := range Categories {
		if v := cleanOrEmpty(o.CategoryOverrides[c]); v != "" {
			if out.CategoryOverrides == nil {
				out.CategoryOverrides = map[Category]string{}
			}
			out.CategoryOverrides[c] = v
		}
	}
	return out
}

// Resolve computes the active layout.
func Resolve(defaults Paths, override Override) State {
	o := override.Normalize()
	active := make(Paths, len(Categories))
	for _, c := range Categories {
		switch {
		case o.CategoryOverrides[c] != "":
			active[c] = o.CategoryOverrides[c]
		case o.CustomRoot != "":
			active[c] = filepath.Join(o.CustomRoot, string(c))
		default:
			active[c] = filepath.Clean(defaults[c])
		}
	}

	defs := make(Paths, len(defaults))
	for k, v := range defaults {
		defs[k] = v
	}
	return State{Defaults: defs, Active: active, Override: o}
}

// NormalizeCustomRoot turns user input into a custom root.
//
// # Description
//
// Trims whitespace, cleans the path and strips trailing separators. Users
// often pick the "models" folder itself; in that case its parent becomes the
// root so that the model directory stays "<root>/models".
//
// # Examples
//
//	NormalizeCustomRoot(" /data/ai/models/ ") // "/data/ai"
//	NormalizeCustomRoot("/data/ai")          // "/data/ai"
func NormalizeCustomRoot(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmptyCustomRoot
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrRelativeCustomRoot, trimmed)
	}
	if strings.EqualFold(filepath.Base(cleaned), string(CategoryModels)) {
		return filepath.Dir(cleaned), nil
	}
	return cleaned, nil
}

func cleanOrEmpty(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv overrides the ModelKeeper home directory.
	HomeEnv = "MODELKEEPER_HOME"

	// FileName is the config file inside the home directory.
	FileName = "modelkeeper.yaml"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// HomeDir returns $MODELKEEPER_HOME, or ~/.modelkeeper.
func HomeDir() (string, error) {
	if h := os.Getenv(HomeEnv); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".modelkeeper"), nil
}

// DefaultPath returns the config file path inside HomeDir.
func DefaultPath() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

// Load reads the config at path, writing the defaults first if the file does
// not exist. Fields missing from the file keep their default values. An
// empty path means DefaultPath.
func Load(path string) (ModelKeeperConfig, error) {
	home, err := HomeDir()
	if err != nil {
		return ModelKeeperConfig{}, err
	}
	if path == "" {
		path = filepath.Join(home, FileName)
	}

	cfg := DefaultConfig(home)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path, cfg); err != nil {
			return ModelKeeperConfig{}, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ModelKeeperConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ModelKeeperConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return ModelKeeperConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg ModelKeeperConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func createDefault(path string, cfg ModelKeeperConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest is the catalog of model artifacts that must be installed
// before the assistant and dictation modes unlock.
//
// The built-in bundle is returned by Default. A deployment may replace it with
// a YAML file (see LoadFile); every descriptor is validated either way.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest wraps every validation failure.
var ErrInvalidManifest = errors.New("invalid model manifest")

// Capability is the functional building block an artifact provides.
type Capability string

const (
	// CapabilitySTT is speech recognition.
	CapabilitySTT Capability = "stt"
	// CapabilityLLM is the language model used for assistant replies and
	// dictation clean-up.
	CapabilityLLM Capability = "llm"
	// CapabilityTTS is speech synthesis.
	CapabilityTTS Capability = "tts"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{CapabilitySTT, CapabilityLLM, CapabilityTTS}

// Artifact describes one required model file. Descriptors are immutable.
type Artifact struct {
	ID             string     `yaml:"id" json:"id" validate:"required"`
	Capability     Capability `yaml:"capability" json:"capability" validate:"required,oneof=stt llm tts"`
	DisplayName    string     `yaml:"display_name" json:"displayName" validate:"required"`
	ProgressLabel  string     `yaml:"progress_label" json:"progressLabel"`
	FileName       string     `yaml:"file_name" json:"fileName" validate:"required,excludesall=/\\"`
	DownloadURL    string     `yaml:"download_url" json:"downloadUrl" validate:"required,url"`
	ExpectedBytes  int64      `yaml:"expected_bytes" json:"expectedBytes" validate:"gte=0"`
	ChecksumSHA256 string     `yaml:"checksum_sha256" json:"checksumSha256" validate:"required,len=64,hexadecimal"`
}

// Label returns the progress label, falling back to the display name.
func (a Artifact) Label() string {
	if a.ProgressLabel != "" {
		return a.ProgressLabel
	}
	return a.DisplayName
}

// Bundle is an ordered set of artifacts installed together.
type Bundle struct {
	ID          string     `yaml:"id" json:"id" validate:"required"`
	DisplayName string     `yaml:"display_name" json:"displayName" validate:"required"`
	Items       []Artifact `yaml:"artifacts" json:"artifacts" validate:"required,min=1,dive"`
}

// Artifacts returns a copy of the bundle's artifacts in install order.
func (b Bundle) Artifacts() []Artifact {
	out := make([]Artifact, len(b.Items))
	copy(out, b.Items)
	return out
}

// ByID returns the artifact with the given id.
func (b Bundle) ByID(id string) (Artifact, bool) {
	for _, a := range b.Items {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// ByCapability returns the first artifact providing c.
func (b Bundle) ByCapability(c Capability) (Artifact, bool) {
	for _, a := range b.Items {
		if a.Capability == c {
			return a, true
		}
	}
	return Artifact{}, false
}

var defaultBundle = Bundle{
	ID:          "scribe-valet-required-bundle-v1",
	DisplayName: "Downloading AI models",
	Items: []Artifact{
		{
			ID:             "stt-whisper-base-en-q5_1",
			Capability:     CapabilitySTT,
			DisplayName:    "Speech to Text (Whisper Base EN)",
			ProgressLabel:  "Speech recognition model",
			FileName:       "ggml-base.en-q5_1.bin",
			DownloadURL:    "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en-q5_1.bin",
			ExpectedBytes:  59_721_011,
			ChecksumSHA256: "323473b7c41bfb7fb994c1e9526abdcc7c55d3a909c8fa0c29f753005e87d372",
		},
		{
			ID:             "llm-qwen2.5-3b-instruct-q4_k_m",
			Capability:     CapabilityLLM,
			DisplayName:    "Assistant Brain (Qwen2.5 3B Instruct)",
			ProgressLabel:  "Assistant language model",
			FileName:       "qwen2.5-3b-instruct-q4_k_m.gguf",
			DownloadURL:    "https://huggingface.co/bartowski/Qwen2.5-3B-Instruct-GGUF/resolve/main/Qwen2.5-3B-Instruct-Q4_K_M.gguf",
			ExpectedBytes:  1_929_903_264,
			ChecksumSHA256: "7f4e1a6aed07702952a1dd402b9d23382d8083c34c8095e8751d2c5f40b116b3",
		},
		{
			ID:             "tts-kokoro-v0_19-fp16",
			Capability:     CapabilityTTS,
			DisplayName:    "Voice Output (Kokoro v0.19)",
			ProgressLabel:  "Text to speech model",
			FileName:       "kokoro-v0_19.onnx",
			DownloadURL:    "https://huggingface.co/onnx-community/Kokoro-82M-ONNX/resolve/main/onnx/model_fp16.onnx",
			ExpectedBytes:  163_227_585,
			ChecksumSHA256: "179746a6ff0aca35bd19801ce91e820205c15a9f3135cc8831cd90c04c08741e",
		},
	},
}

// Default returns the built-in required bundle.
func Default() Bundle {
	b := defaultBundle
	b.Items = defaultBundle.Artifacts()
	return b
}

// RequiredArtifacts lists the built-in required artifacts in install order.
func RequiredArtifacts() []Artifact {
	return defaultBundle.Artifacts()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every descriptor and rejects duplicate ids or file names.
func Validate(b Bundle) error {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	ids := make(map[string]bool, len(b.Items))
	files := make(map[string]bool, len(b.Items))
	for _, a := range b.Items {
		if ids[a.ID] {
			return fmt.Errorf("%w: duplicate artifact id %q", ErrInvalidManifest, a.ID)
		}
		if files[a.FileName] {
			return fmt.Errorf("%w: duplicate file name %q", ErrInvalidManifest, a.FileName)
		}
		ids[a.ID] = true
		files[a.FileName] = true
	}
	return nil
}

// LoadFile reads a YAML bundle from path and validates it.
//
// # Examples
//
//	id: my-bundle
//	display_name: Downloading AI models
//	artifacts:
//	  - id: stt-small
//	    capability: stt
//	    display_name: Speech to Text
//	    file_name: ggml-small.bin
//	    download_url: https://example.com/ggml-small.bin
//	    expected_bytes: 1024
//	    checksum_sha256: <64 hex chars>
func LoadFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidManifest, path, err)
	}
	if err := Validate(b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Load returns the bundle at path, or the built-in bundle when path is empty.
func Load(path string) (Bundle, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

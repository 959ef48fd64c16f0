// Package configs provides the embedded configuration template for amanwatch.
//
// The template is embedded at build time so `amanwatch config init` works
// from source builds and binary releases alike.
//
// Configuration Hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/amanwatch/config.yaml)
//  3. Project config (.amanwatch.yaml)
//  4. Environment variables (AMANWATCH_*)
package configs

import _ "embed"

// ConfigTemplate is the commented template written by `amanwatch config init`
// at ~/.config/amanwatch/config.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string

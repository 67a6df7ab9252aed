// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads dbsandbox configuration.
//
// Configuration comes from a single file named by the --config flag or
// the DBSANDBOX_CONFIG environment variable, in that order. When
// neither is set, [Default] is used unchanged. The file is YAML; files
// ending in .json or .jsonc are accepted too, with comments and
// trailing commas stripped before parsing.
//
// Values from the file are merged over [Default], so a file only
// needs the keys it changes. Durations use Go syntax ("1s", "250ms").
// Path fields support ${VAR} and ${VAR:-default} expansion against the
// process environment.
//
// The supervisor hands its resolved configuration to the worker as
// YAML on the worker's stdin ([Config.Marshal] / [Parse]), so both
// processes always agree on settings.
package config

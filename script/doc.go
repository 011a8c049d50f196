// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

// Package script holds the prompt and generated-script value types shared by
// the generator clients, the converter and the HTTP layer.
//
// A script's fingerprint is the SHA-256 of its exact text; it is the dedup
// key for conversion and the artifact key for fetches.
package script

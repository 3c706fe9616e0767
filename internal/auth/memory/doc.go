// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth storage
// interfaces. Contents are lost when the process exits.
package memory

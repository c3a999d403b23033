/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package version

// Version is the software version. Set at build time via ldflags.
var Version = "0.0.0-unreleased"

// Build is the build information. Set at build time via ldflags.
var Build = "unknown"

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package kwmpeer provides WebRTC peer session negotiation services.
package kwmpeer

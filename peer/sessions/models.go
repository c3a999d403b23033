/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v2"
)

// WebsocketMessage is the container for all signaling websocket messages.
type WebsocketMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`

	Error *WebsocketError `json:"error,omitempty"`
}

// WebsocketError carries error details within signaling websocket messages.
type WebsocketError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebRTCSignal is the payload of webrtc type signaling messages in both
// directions. Exactly one of SDP or Candidate is set unless it is a noop.
type WebRTCSignal struct {
	Renegotiate bool `json:"renegotiate,omitempty"`
	Noop        bool `json:"noop,omitempty"`

	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// StreamDescription describes a media stream by its identifier and the
// identifiers of its tracks.
type StreamDescription struct {
	ID          string   `json:"id"`
	AudioTracks []string `json:"audioTracks,omitempty"`
	VideoTracks []string `json:"videoTracks,omitempty"`
}

// SessionCreateRequest is the JSON request body accepted when creating
// sessions.
type SessionCreateRequest struct {
	ID string `json:"id,omitempty"`

	Audio *bool `json:"audio,omitempty"`
	Video *bool `json:"video,omitempty"`

	Simulcast    bool `json:"simulcast,omitempty"`
	Multistream  bool `json:"multistream,omitempty"`
	DataChannels bool `json:"dataChannels,omitempty"`

	UserAgent string `json:"userAgent,omitempty"`

	Stream *StreamDescription `json:"stream,omitempty"`
}

// SessionResource is the JSON representation of a session.
type SessionResource struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`

	UserAgent string `json:"userAgent,omitempty"`

	Simulcast    bool `json:"simulcast"`
	Multistream  bool `json:"multistream"`
	DataChannels bool `json:"dataChannels"`

	HasLocalDescription  bool `json:"hasLocalDescription"`
	HasRemoteDescription bool `json:"hasRemoteDescription"`
}

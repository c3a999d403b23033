/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"github.com/pion/webrtc/v2"
)

// Connection is the transport capability consumed by a Session. It is the
// subset of a WebRTC peer connection which negotiation needs, so sessions
// can be driven against fakes in tests and against pion in production.
type Connection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription

	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTransceiver(kind webrtc.RTPCodecType) error

	SignalingState() webrtc.SignalingState
	OnSignalingStateChange(handler func(webrtc.SignalingState))
	// OnICECandidate registers the local candidate discovery handler. A nil
	// candidate marks the end of gathering.
	OnICECandidate(handler func(*webrtc.ICECandidateInit))

	Close() error
}

// ConnectionFactory creates the transport connection for a session when no
// pre-built connection was injected through the session config.
type ConnectionFactory func(cfg *Config) (Connection, error)

// DataChannel is the send capability of an established data channel. The
// session passes payloads through without interpreting them.
type DataChannel interface {
	Label() string
	Send(data []byte) error
}

// DataChannelProvider is implemented by transport connections which establish
// data channels. Sessions register for the channels once they are open.
type DataChannelProvider interface {
	OnDataChannel(handler func(DataChannel))
}

// MediaSink receives stream binding updates from a session. Implementations
// render remote streams for playback and local streams as muted preview.
type MediaSink interface {
	BindLocalStream(stream *StreamInfo)
	BindRemoteStream(stream *StreamInfo)
}

// StreamInfo describes a media stream by its identifier and the identifiers
// of its tracks.
type StreamInfo struct {
	ID          string
	AudioTracks []string
	VideoTracks []string
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// MediaConstraints selects which media kinds a session offers. A nil field
// means the default, which is to offer that kind.
type MediaConstraints struct {
	Audio *bool
	Video *bool
}

func (constraints *MediaConstraints) resolve() (audio bool, video bool) {
	audio = true
	video = true
	if constraints == nil {
		return
	}
	if constraints.Audio != nil {
		audio = *constraints.Audio
	}
	if constraints.Video != nil {
		video = *constraints.Video
	}
	return
}

// DataChannelConfig is pass-through configuration for the session's data
// channel. The session never interprets channel payloads.
type DataChannelConfig struct {
	Label   string
	ID      *uint16
	Ordered *bool

	OnOpen              func()
	OnClose             func()
	OnMessage           func(data []byte, isString bool)
	OnBufferedAmountLow func()
	OnError             func(err error)
}

// Config carries all settings recognized when constructing a Session.
// Unknown concerns are simply not represented here; there is no dynamic
// field bag.
type Config struct {
	// ID identifies the session. A random identifier is generated when
	// empty.
	ID string

	Logger logrus.FieldLogger

	// Connection is an optional pre-built transport connection to wrap. When
	// nil, ConnectionFactory is used to create one.
	Connection        Connection
	ConnectionFactory ConnectionFactory

	MediaConstraints *MediaConstraints
	// ConnectionConstraints are passed to the transport when creating an
	// offer.
	ConnectionConstraints *webrtc.OfferOptions

	// Simulcast enables SDP augmentation of locally generated descriptions
	// with a 3-way SIM SSRC group.
	Simulcast bool
	// Multistream selects unified plan SDP semantics on the transport.
	Multistream bool

	// RemoteUserAgent identifies the remote engine. Simulcast augmentation
	// is only applied for the chromium engine family.
	RemoteUserAgent string
	// VideoStream describes the outgoing video stream whose identifiers are
	// used when augmenting descriptions for simulcast.
	VideoStream *StreamInfo

	DataChannels      bool
	DataChannelConfig *DataChannelConfig

	MediaSink MediaSink
}

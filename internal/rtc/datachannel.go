/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v2"

	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
)

const defaultDataChannelLabel = "kwmpeer-1"

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (channel *dataChannel) Label() string {
	return channel.dc.Label()
}

func (channel *dataChannel) Send(data []byte) error {
	return channel.dc.Send(data)
}

func (conn *Connection) setupDataChannels(sessionConfig *negotiation.Config) error {
	if !sessionConfig.DataChannels {
		return nil
	}
	channelConfig := sessionConfig.DataChannelConfig

	label := defaultDataChannelLabel
	var init *webrtc.DataChannelInit
	if channelConfig != nil {
		if channelConfig.Label != "" {
			label = channelConfig.Label
		}
		if channelConfig.ID != nil || channelConfig.Ordered != nil {
			init = &webrtc.DataChannelInit{
				ID:      channelConfig.ID,
				Ordered: channelConfig.Ordered,
			}
		}
	}

	dc, err := conn.PeerConnection.CreateDataChannel(label, init)
	if err != nil {
		return fmt.Errorf("error creating data channel: %w", err)
	}
	conn.bindDataChannel(dc, channelConfig)

	// Also accept channels created by the remote side.
	conn.PeerConnection.OnDataChannel(func(remote *webrtc.DataChannel) {
		conn.bindDataChannel(remote, channelConfig)
	})

	return nil
}

func (conn *Connection) bindDataChannel(dc *webrtc.DataChannel, channelConfig *negotiation.DataChannelConfig) {
	logger := conn.logger.WithField("datachannel", dc.Label())

	dc.OnOpen(func() {
		logger.Debugln("data channel open")
		conn.deliverDataChannel(&dataChannel{dc})
		if channelConfig != nil && channelConfig.OnOpen != nil {
			channelConfig.OnOpen()
		}
	})
	dc.OnClose(func() {
		logger.Debugln("data channel close")
		if channelConfig != nil && channelConfig.OnClose != nil {
			channelConfig.OnClose()
		}
	})
	dc.OnError(func(channelErr error) {
		logger.WithError(channelErr).Errorln("data channel error")
		if channelConfig != nil && channelConfig.OnError != nil {
			channelConfig.OnError(channelErr)
		}
	})
	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		if channelConfig != nil && channelConfig.OnMessage != nil {
			channelConfig.OnMessage(raw.Data, raw.IsString)
		}
	})
	if channelConfig != nil && channelConfig.OnBufferedAmountLow != nil {
		dc.OnBufferedAmountLow(channelConfig.OnBufferedAmountLow)
	}
}

// OnDataChannel registers the consumer for established data channels.
// Channels which opened before registration are delivered right away.
func (conn *Connection) OnDataChannel(handler func(negotiation.DataChannel)) {
	conn.dcMutex.Lock()
	conn.onDataChannel = handler
	opened := conn.openedChannels
	conn.openedChannels = nil
	conn.dcMutex.Unlock()

	for _, channel := range opened {
		handler(channel)
	}
}

func (conn *Connection) deliverDataChannel(channel negotiation.DataChannel) {
	conn.dcMutex.Lock()
	handler := conn.onDataChannel
	if handler == nil {
		conn.openedChannels = append(conn.openedChannels, channel)
		conn.dcMutex.Unlock()
		return
	}
	conn.dcMutex.Unlock()

	handler(channel)
}

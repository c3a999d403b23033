/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmpeer/internal/jitterbuffer"
	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
)

// RTPSink is implemented by media sinks which consume the raw RTP packets of
// remote tracks in addition to the stream binding notifications.
type RTPSink interface {
	WriteRTP(stream *negotiation.StreamInfo, packet *rtp.Packet) error
}

type trackReader interface {
	ReadRTP() (*rtp.Packet, error)
}

const (
	jitterPLIInterval  = 3 // Seconds.
	jitterRembInterval = 5 // Seconds.
	jitterBandwidth    = 1000
)

// setupMedia starts the jitter buffer and feedback loop for the connection
// and pumps remote tracks as they arrive. The feedback loop runs for every
// negotiated track; a media sink additionally receives stream bindings and,
// when it consumes RTP, the raw packets.
func (conn *Connection) setupMedia(sessionConfig *negotiation.Config) {
	sink := sessionConfig.MediaSink
	multistream := sessionConfig.Multistream

	jitter := jitterbuffer.New(conn.id, &jitterbuffer.Config{
		Logger: conn.logger,

		PLIInterval:  jitterPLIInterval,
		RembInterval: jitterRembInterval,
		Bandwidth:    jitterBandwidth,
	})
	if err := jitter.Start(conn.ctx); err != nil {
		conn.logger.WithError(err).Errorln("failed to start jitter buffer")
		return
	}
	go conn.rtcpLoop(jitter)

	conn.PeerConnection.OnTrack(func(remoteTrack *webrtc.Track, receiver *webrtc.RTPReceiver) {
		streamID := "default"
		if multistream {
			streamID = remoteTrack.Label()
		}
		stream := &negotiation.StreamInfo{
			ID: streamID,
		}
		isVideo := remoteTrack.Kind() == webrtc.RTPCodecTypeVideo
		if isVideo {
			stream.VideoTracks = []string{remoteTrack.ID()}
		} else {
			stream.AudioTracks = []string{remoteTrack.ID()}
		}

		trackLogger := conn.logger.WithFields(logrus.Fields{
			"track_id":   remoteTrack.ID(),
			"track_kind": remoteTrack.Kind(),
			"track_ssrc": remoteTrack.SSRC(),
		})
		trackLogger.Debugln("remote track received")

		if sink != nil {
			sink.BindRemoteStream(stream)
		}

		go func() {
			pumpTrack(remoteTrack, stream, isVideo, sink, jitter, trackLogger)
			jitter.RemoveBuffer(remoteTrack.SSRC())
		}()
	})
}

// pumpTrack reads remote packets until the track ends, feeding the jitter
// buffer for feedback generation and the optional rtp consuming sink.
func pumpTrack(reader trackReader, stream *negotiation.StreamInfo, isVideo bool, sink negotiation.MediaSink, jitter *jitterbuffer.JitterBuffer, logger logrus.FieldLogger) {
	rtpSink, _ := sink.(RTPSink)

	for {
		pkt, readErr := reader.ReadRTP()
		if readErr != nil {
			if readErr != io.EOF {
				logger.WithError(readErr).Errorln("failed to read from remote track")
			}
			return
		}
		if pushErr := jitter.PushRTP(pkt, isVideo); pushErr != nil {
			logger.WithError(pushErr).Warnln("failed to push packet to jitter buffer")
		}
		if rtpSink == nil {
			continue
		}
		if writeErr := rtpSink.WriteRTP(stream, pkt); writeErr != nil {
			logger.WithError(writeErr).Errorln("failed to write to rtp sink")
			return
		}
	}
}

// rtcpLoop forwards the feedback generated by the jitter buffer (PLI, REMB
// and NACK) to the remote peer.
func (conn *Connection) rtcpLoop(jitter *jitterbuffer.JitterBuffer) {
	for {
		select {
		case <-conn.ctx.Done():
			jitter.Stop()
			return
		case pkt := <-jitter.GetRTCPChan():
			if pkt == nil {
				return
			}
			if err := conn.WriteRTCP([]rtcp.Packet{pkt}); err != nil {
				conn.logger.WithError(err).Debugln("failed to write rtcp feedback")
			}
		}
	}
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmpeer/internal/jitterbuffer"
	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
)

var testLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

type fakeTrackReader struct {
	packets []*rtp.Packet
}

func (r *fakeTrackReader) ReadRTP() (*rtp.Packet, error) {
	if len(r.packets) == 0 {
		return nil, io.EOF
	}
	pkt := r.packets[0]
	r.packets = r.packets[1:]
	return pkt, nil
}

type fakeMediaSink struct {
	remoteStreams []*negotiation.StreamInfo
	written       []*rtp.Packet
}

func (s *fakeMediaSink) BindLocalStream(stream *negotiation.StreamInfo) {}

func (s *fakeMediaSink) BindRemoteStream(stream *negotiation.StreamInfo) {
	s.remoteStreams = append(s.remoteStreams, stream)
}

func (s *fakeMediaSink) WriteRTP(stream *negotiation.StreamInfo, packet *rtp.Packet) error {
	s.written = append(s.written, packet)
	return nil
}

func newTrackPacket(ssrc uint32, sn uint16) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			SSRC:           ssrc,
			SequenceNumber: sn,
			Timestamp:      uint32(sn) * 3000,
			PayloadType:    96,
		},
	}
}

func newTestMediaJitterBuffer(ctx context.Context, t *testing.T) *jitterbuffer.JitterBuffer {
	jitter := jitterbuffer.New("test", &jitterbuffer.Config{
		Logger: testLogger,

		Bandwidth: jitterBandwidth,
	})
	if err := jitter.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return jitter
}

func TestPumpTrackFeedsJitterBufferAndSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jitter := newTestMediaJitterBuffer(ctx, t)
	defer jitter.Stop()

	reader := &fakeTrackReader{
		packets: []*rtp.Packet{
			newTrackPacket(7, 1),
			newTrackPacket(7, 2),
			newTrackPacket(7, 3),
		},
	}
	sink := &fakeMediaSink{}
	stream := &negotiation.StreamInfo{
		ID:          "default",
		VideoTracks: []string{"track-1"},
	}

	pumpTrack(reader, stream, true, sink, jitter, testLogger)

	if len(sink.written) != 3 {
		t.Fatalf("sink received %d packets, expected 3", len(sink.written))
	}
	for i, pkt := range sink.written {
		if pkt.SequenceNumber != uint16(i+1) {
			t.Errorf("sink packet %d has sequence number %d", i, pkt.SequenceNumber)
		}
	}
	if pkt := jitter.GetPacket(7, 2); pkt == nil {
		t.Errorf("jitter buffer did not record pushed packet")
	}
}

func TestPumpTrackWithoutSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jitter := newTestMediaJitterBuffer(ctx, t)
	defer jitter.Stop()

	reader := &fakeTrackReader{
		packets: []*rtp.Packet{
			newTrackPacket(9, 1),
			newTrackPacket(9, 2),
		},
	}
	stream := &negotiation.StreamInfo{
		ID:          "default",
		AudioTracks: []string{"track-1"},
	}

	pumpTrack(reader, stream, false, nil, jitter, testLogger)

	if pkt := jitter.GetPacket(9, 1); pkt == nil {
		t.Errorf("jitter buffer did not record pushed packet without sink")
	}
	if buffer := jitter.GetBuffer(9); buffer == nil || buffer.IsVideo() {
		t.Errorf("audio track registered as video buffer")
	}
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

const ssrcGroupFIDPrefix = "a=ssrc-group:FID"

// stripFromSSRCGroupFID removes the FID SSRC group attribute line and
// everything after it. This is a textual truncation, not a structural SDP
// parse - it assumes nothing meaningful follows the FID group. If an offer
// ever places further media sections after that line, they are dropped
// silently.
func stripFromSSRCGroupFID(sdp string) string {
	idx := strings.Index(sdp, ssrcGroupFIDPrefix)
	if idx < 0 {
		return sdp
	}

	return sdp[:idx]
}

// isChromiumUserAgent reports whether the user agent belongs to the engine
// family which accepts the SIM SSRC group augmentation.
func isChromiumUserAgent(userAgent string) bool {
	return strings.Contains(userAgent, "Chrome") || strings.Contains(userAgent, "Chromium")
}

// simulcastSDPTransform augments an outgoing description with a conference
// flag and a 3-way SIM SSRC group derived from the outgoing video stream.
// The description is left unchanged when the remote engine family does not
// accept the augmentation or when the stream carries no video track.
func simulcastSDPTransform(sessionDescription *webrtc.SessionDescription, stream *StreamInfo, userAgent string, logger logrus.FieldLogger) error {
	if !isChromiumUserAgent(userAgent) {
		logger.Debugln("simulcast not supported by remote engine, leaving description unchanged")
		return nil
	}

	if stream == nil || len(stream.VideoTracks) == 0 {
		logger.Warnln("simulcast requested but outgoing stream has no video track, skipping augmentation")
		return nil
	}

	trackID := stream.VideoTracks[0]
	cname := newRandomString(16)
	ssrcs := [3]uint32{newRandomUint32(), newRandomUint32(), newRandomUint32()}

	var b strings.Builder
	b.WriteString(stripFromSSRCGroupFID(sessionDescription.SDP))
	b.WriteString("a=x-google-flag:conference\r\n")
	b.WriteString(fmt.Sprintf("a=ssrc-group:SIM %d %d %d\r\n", ssrcs[0], ssrcs[1], ssrcs[2]))
	for _, ssrc := range ssrcs {
		b.WriteString(fmt.Sprintf("a=ssrc:%d cname:%s\r\n", ssrc, cname))
		b.WriteString(fmt.Sprintf("a=ssrc:%d msid:%s %s\r\n", ssrc, stream.ID, trackID))
		b.WriteString(fmt.Sprintf("a=ssrc:%d mslabel:%s\r\n", ssrc, stream.ID))
		b.WriteString(fmt.Sprintf("a=ssrc:%d label:%s\r\n", ssrc, trackID))
	}

	sessionDescription.SDP = b.String()
	return nil
}

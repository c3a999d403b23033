/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"os"

	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

var testLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

// fakeConnection implements Connection with scripted descriptions and
// emulated signaling state transitions.
type fakeConnection struct {
	state  webrtc.SignalingState
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	offerSDP  string
	answerSDP string

	added        []webrtc.ICECandidateInit
	transceivers []webrtc.RTPCodecType

	createOfferErr  error
	createAnswerErr error
	setLocalErr     error
	setRemoteErr    error
	addCandidateErr error

	onState     func(webrtc.SignalingState)
	onCandidate func(*webrtc.ICECandidateInit)

	closed bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		state:     webrtc.SignalingStateStable,
		offerSDP:  "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n",
		answerSDP: "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n",
	}
}

func (conn *fakeConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if conn.createOfferErr != nil {
		return webrtc.SessionDescription{}, conn.createOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: conn.offerSDP}, nil
}

func (conn *fakeConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if conn.createAnswerErr != nil {
		return webrtc.SessionDescription{}, conn.createAnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: conn.answerSDP}, nil
}

func (conn *fakeConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if conn.setLocalErr != nil {
		return conn.setLocalErr
	}
	conn.local = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		conn.setState(webrtc.SignalingStateHaveLocalOffer)
	case webrtc.SDPTypeAnswer:
		conn.setState(webrtc.SignalingStateStable)
	}
	return nil
}

func (conn *fakeConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if conn.setRemoteErr != nil {
		return conn.setRemoteErr
	}
	conn.remote = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		conn.setState(webrtc.SignalingStateHaveRemoteOffer)
	case webrtc.SDPTypeAnswer:
		conn.setState(webrtc.SignalingStateStable)
	}
	return nil
}

func (conn *fakeConnection) LocalDescription() *webrtc.SessionDescription {
	return conn.local
}

func (conn *fakeConnection) RemoteDescription() *webrtc.SessionDescription {
	return conn.remote
}

func (conn *fakeConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if conn.addCandidateErr != nil {
		return conn.addCandidateErr
	}
	conn.added = append(conn.added, candidate)
	return nil
}

func (conn *fakeConnection) AddTransceiver(kind webrtc.RTPCodecType) error {
	conn.transceivers = append(conn.transceivers, kind)
	return nil
}

func (conn *fakeConnection) SignalingState() webrtc.SignalingState {
	return conn.state
}

func (conn *fakeConnection) OnSignalingStateChange(handler func(webrtc.SignalingState)) {
	conn.onState = handler
}

func (conn *fakeConnection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	conn.onCandidate = handler
}

func (conn *fakeConnection) Close() error {
	conn.closed = true
	conn.setState(webrtc.SignalingStateClosed)
	return nil
}

func (conn *fakeConnection) setState(state webrtc.SignalingState) {
	conn.state = state
	if conn.onState != nil {
		conn.onState(state)
	}
}

// discoverCandidate emulates the transport finding a local candidate, or the
// end of gathering when candidate is empty.
func (conn *fakeConnection) discoverCandidate(candidate string) {
	if conn.onCandidate == nil {
		return
	}
	if candidate == "" {
		conn.onCandidate(nil)
		return
	}
	conn.onCandidate(&webrtc.ICECandidateInit{Candidate: candidate})
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions_test

import (
	"context"
	"os"
	"testing"

	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmpeer/config"
	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
	"stash.kopano.io/kwm/kwmpeer/peer/sessions"
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

// fakeConn is a scripted transport connection for manager and handler tests.
type fakeConn struct {
	offerSDP  string
	answerSDP string

	state  webrtc.SignalingState
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	added        []webrtc.ICECandidateInit
	transceivers []webrtc.RTPCodecType

	onState     func(webrtc.SignalingState)
	onCandidate func(*webrtc.ICECandidateInit)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		offerSDP:  "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n",
		answerSDP: "v=0\r\no=- 2 1 IN IP4 127.0.0.1\r\n",

		state: webrtc.SignalingStateStable,
	}
}

func (conn *fakeConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: conn.offerSDP}, nil
}

func (conn *fakeConn) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: conn.answerSDP}, nil
}

func (conn *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	conn.local = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		conn.setState(webrtc.SignalingStateHaveLocalOffer)
	} else {
		conn.setState(webrtc.SignalingStateStable)
	}
	return nil
}

func (conn *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	conn.remote = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		conn.setState(webrtc.SignalingStateHaveRemoteOffer)
	} else {
		conn.setState(webrtc.SignalingStateStable)
	}
	return nil
}

func (conn *fakeConn) LocalDescription() *webrtc.SessionDescription {
	return conn.local
}

func (conn *fakeConn) RemoteDescription() *webrtc.SessionDescription {
	return conn.remote
}

func (conn *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	conn.added = append(conn.added, candidate)
	return nil
}

func (conn *fakeConn) AddTransceiver(kind webrtc.RTPCodecType) error {
	conn.transceivers = append(conn.transceivers, kind)
	return nil
}

func (conn *fakeConn) SignalingState() webrtc.SignalingState {
	return conn.state
}

func (conn *fakeConn) OnSignalingStateChange(handler func(webrtc.SignalingState)) {
	conn.onState = handler
}

func (conn *fakeConn) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	conn.onCandidate = handler
}

func (conn *fakeConn) Close() error {
	conn.setState(webrtc.SignalingStateClosed)
	return nil
}

func (conn *fakeConn) setState(state webrtc.SignalingState) {
	conn.state = state
	if conn.onState != nil {
		conn.onState(state)
	}
}

// discoverCandidate simulates local candidate gathering. An empty value marks
// the end of gathering.
func (conn *fakeConn) discoverCandidate(candidate string) {
	if conn.onCandidate == nil {
		return
	}
	if candidate == "" {
		conn.onCandidate(nil)
		return
	}
	conn.onCandidate(&webrtc.ICECandidateInit{Candidate: candidate})
}

func newCandidateInit(candidate string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: candidate}
}

func newTestManager(ctx context.Context, t *testing.T) (*sessions.Manager, func() *fakeConn) {
	config := &cfg.Config{
		Logger: logger,
	}

	m, err := sessions.NewManager(ctx, config)
	if err != nil {
		t.Fatal(err)
	}

	var last *fakeConn
	m.SetConnectionFactory(func(sessionConfig *negotiation.Config) (negotiation.Connection, error) {
		last = newFakeConn()
		return last, nil
	})

	return m, func() *fakeConn { return last }
}

func TestManagerSessionLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, _ := newTestManager(ctx, t)

	record, err := m.CreateSession(&sessions.SessionCreateRequest{ID: "session-1"})
	if err != nil {
		t.Fatal(err)
	}
	if record.ID() != "session-1" {
		t.Errorf("session id got %q want session-1", record.ID())
	}
	if m.NumActive() != 1 {
		t.Errorf("active count got %d want 1", m.NumActive())
	}

	if _, exists := m.GetSession("session-1"); !exists {
		t.Errorf("created session not found")
	}
	if _, exists := m.GetSession("other"); exists {
		t.Errorf("unknown session found")
	}

	if _, err = m.CreateSession(&sessions.SessionCreateRequest{ID: "session-1"}); err == nil {
		t.Errorf("duplicate session id accepted")
	}

	if !m.DestroySession("session-1") {
		t.Errorf("failed to destroy session")
	}
	if m.NumActive() != 0 {
		t.Errorf("active count after destroy got %d want 0", m.NumActive())
	}
	if m.DestroySession("session-1") {
		t.Errorf("destroy of destroyed session succeeded")
	}
}

func TestManagerShutdownClosesSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m, lastConn := newTestManager(ctx, t)

	if _, err := m.CreateSession(nil); err != nil {
		t.Fatal(err)
	}
	conn := lastConn()

	cancel()
	m.Wait()

	if m.NumActive() != 0 {
		t.Errorf("sessions still registered after shutdown")
	}
	if conn.state != webrtc.SignalingStateClosed {
		t.Errorf("session connection not closed on shutdown")
	}
}

func TestManagerGeneratedSessionID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, _ := newTestManager(ctx, t)

	record, err := m.CreateSession(nil)
	if err != nil {
		t.Fatal(err)
	}
	if record.ID() == "" {
		t.Errorf("session id not generated")
	}

	resource := record.Resource()
	if resource.ID != record.ID() {
		t.Errorf("resource id got %q want %q", resource.ID, record.ID())
	}
	if resource.HasLocalDescription || resource.HasRemoteDescription {
		t.Errorf("fresh session must not have descriptions")
	}
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v2"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// AnswerProcessor completes an offer round trip with the remote answer SDP.
type AnswerProcessor func(remoteSDP string) error

// Session drives the offer/answer exchange on a single transport connection
// while coordinating the two candidate flows around it: remote candidates
// are gated until the signaling state permits applying them, and locally
// discovered candidates are buffered until a consumer has subscribed.
type Session struct {
	deadlock.RWMutex

	id     string
	config *Config
	logger logrus.FieldLogger

	conn     Connection
	inbound  *InboundCandidateQueue
	outbound *OutboundCandidateBuffer

	dataChannel DataChannel

	transceiversAdded bool
	closed            bool
}

// NewSession creates a session from the provided config, creating the
// transport connection through the config's factory unless a pre-built one
// was injected.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	id := cfg.ID
	if id == "" {
		id = newRandomGUID()
	}

	var logger logrus.FieldLogger
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("session", id)
	} else {
		logger = logrus.StandardLogger().WithField("session", id)
	}

	conn := cfg.Connection
	if conn == nil {
		if cfg.ConnectionFactory == nil {
			return nil, errors.New("no connection and no connection factory")
		}
		var err error
		conn, err = cfg.ConnectionFactory(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection: %w", err)
		}
	}

	session := &Session{
		id:     id,
		config: cfg,
		logger: logger,

		conn:     conn,
		inbound:  NewInboundCandidateQueue(conn, logger),
		outbound: NewOutboundCandidateBuffer(logger),
	}

	// Wire candidate discovery into the outbound buffer and the state change
	// signal into the inbound queue's release gate. The session is the sole
	// owner of both; all external interaction goes through its entry points.
	conn.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		session.outbound.Publish(candidate)
	})
	if provider, ok := conn.(DataChannelProvider); ok {
		provider.OnDataChannel(session.BindDataChannel)
	}
	conn.OnSignalingStateChange(func(state webrtc.SignalingState) {
		logger.WithField("state", state).Debugln("signaling state change")
		switch state {
		case webrtc.SignalingStateStable:
			session.inbound.Flush()
		case webrtc.SignalingStateClosed:
			session.handleConnectionClosed()
		}
	})

	return session, nil
}

// ID returns the session identifier. It is stable for the session lifetime.
func (session *Session) ID() string {
	return session.id
}

// GenerateOffer creates an offer under the configured constraints, applies
// simulcast augmentation, sets the result as local description and returns
// its SDP text together with a processor bound to this session which
// completes the round trip with the remote answer.
func (session *Session) GenerateOffer() (string, AnswerProcessor, error) {
	session.Lock()
	defer session.Unlock()

	if session.isClosed() {
		return "", nil, ErrConnectionClosed
	}

	// Transceivers are added once for the session lifetime. Renegotiation
	// offers reuse them, otherwise every round trip would grow the SDP.
	if !session.transceiversAdded {
		audio, video := session.config.MediaConstraints.resolve()
		if audio {
			if err := session.conn.AddTransceiver(webrtc.RTPCodecTypeAudio); err != nil {
				return "", nil, fmt.Errorf("failed to add audio transceiver: %w", err)
			}
		}
		if video {
			if err := session.conn.AddTransceiver(webrtc.RTPCodecTypeVideo); err != nil {
				return "", nil, fmt.Errorf("failed to add video transceiver: %w", err)
			}
		}
		session.transceiversAdded = true
	}

	sessionDescription, err := session.conn.CreateOffer(session.config.ConnectionConstraints)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err = session.localSDPTransform(&sessionDescription); err != nil {
		return "", nil, fmt.Errorf("failed to transform local offer description: %w", err)
	}
	if err = session.conn.SetLocalDescription(sessionDescription); err != nil {
		return "", nil, fmt.Errorf("failed to set local offer description: %w", err)
	}

	session.logger.Debugln("created local offer")
	return sessionDescription.SDP, session.ProcessAnswer, nil
}

// ProcessOffer applies a remote offer, creates and augments the local
// answer, sets it as local description and returns its SDP text.
func (session *Session) ProcessOffer(remoteSDP string) (string, error) {
	session.Lock()
	defer session.Unlock()

	if session.isClosed() {
		return "", ErrConnectionClosed
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteSDP,
	}
	if err := session.conn.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote offer description: %w", err)
	}
	session.updateLocalMediaState()

	sessionDescription, err := session.conn.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err = session.localSDPTransform(&sessionDescription); err != nil {
		return "", fmt.Errorf("failed to transform local answer description: %w", err)
	}
	if err = session.conn.SetLocalDescription(sessionDescription); err != nil {
		return "", fmt.Errorf("failed to set local answer description: %w", err)
	}

	session.logger.Debugln("created local answer")
	return sessionDescription.SDP, nil
}

// ProcessAnswer applies a remote answer, completing an offer round trip.
func (session *Session) ProcessAnswer(remoteSDP string) error {
	session.Lock()
	defer session.Unlock()

	if session.isClosed() {
		return ErrConnectionClosed
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remoteSDP,
	}
	if err := session.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer description: %w", err)
	}
	session.updateLocalMediaState()

	return nil
}

// AddICECandidate submits a remote candidate. The done callback receives the
// application outcome, possibly deferred until the signaling state permits
// applying candidates. A nil callback logs failures and does nothing else.
func (session *Session) AddICECandidate(candidate webrtc.ICECandidateInit, done func(error)) {
	if done == nil {
		done = func(err error) {
			if err != nil {
				session.logger.WithError(err).Warnln("failed to add remote ice candidate")
			}
		}
	}

	session.inbound.Submit(&candidate, done)
}

// OnICECandidate registers the consumer for locally discovered candidates.
// Candidates discovered before registration are replayed in discovery order.
func (session *Session) OnICECandidate(handler func(webrtc.ICECandidateInit)) {
	session.outbound.OnCandidate(handler)
}

// OnCandidateGatheringDone registers the consumer for the gathering
// completion event.
func (session *Session) OnCandidateGatheringDone(handler func()) {
	session.outbound.OnGatheringDone(handler)
}

// LocalDescription returns the transport's current local description.
func (session *Session) LocalDescription() *webrtc.SessionDescription {
	return session.conn.LocalDescription()
}

// RemoteDescription returns the transport's current remote description.
func (session *Session) RemoteDescription() *webrtc.SessionDescription {
	return session.conn.RemoteDescription()
}

// Start validates that the session is usable and binds the configured local
// stream for preview. It fails fast when the connection is already closed.
func (session *Session) Start() error {
	session.Lock()
	defer session.Unlock()

	if session.isClosed() {
		return fmt.Errorf("cannot start session: %w", ErrConnectionClosed)
	}

	session.logger.Debugln("session start")
	session.updateLocalMediaState()
	return nil
}

// Send passes data through the session's data channel. Without an open
// channel the data is dropped with a diagnostic.
func (session *Session) Send(data []byte) {
	session.RLock()
	dataChannel := session.dataChannel
	session.RUnlock()

	if dataChannel == nil {
		session.logger.Warnln("send without open data channel, data dropped")
		return
	}
	if err := dataChannel.Send(data); err != nil {
		session.logger.WithError(err).Errorln("failed to send on data channel")
	}
}

// BindDataChannel attaches an established data channel to the session. It is
// called by the transport adapter once the channel is open.
func (session *Session) BindDataChannel(dataChannel DataChannel) {
	session.Lock()
	defer session.Unlock()

	session.dataChannel = dataChannel
	if dataChannel != nil {
		session.logger.WithField("datachannel", dataChannel.Label()).Debugln("data channel bound")
	}
}

// Close tears the session down. All pending inbound candidate callbacks are
// failed, never silently dropped. Close is idempotent.
func (session *Session) Close() error {
	session.Lock()
	if session.closed {
		session.Unlock()
		return nil
	}
	session.closed = true
	session.dataChannel = nil
	session.Unlock()

	session.inbound.Close()
	return session.conn.Close()
}

func (session *Session) handleConnectionClosed() {
	session.Lock()
	if session.closed {
		session.Unlock()
		return
	}
	session.closed = true
	session.dataChannel = nil
	session.Unlock()

	session.inbound.Close()
	session.logger.Debugln("session connection closed")
}

// isClosed must be called with the session lock held.
func (session *Session) isClosed() bool {
	return session.closed || session.conn.SignalingState() == webrtc.SignalingStateClosed
}

func (session *Session) localSDPTransform(sessionDescription *webrtc.SessionDescription) error {
	if !session.config.Simulcast {
		return nil
	}

	return simulcastSDPTransform(sessionDescription, session.config.VideoStream, session.config.RemoteUserAgent, session.logger)
}

func (session *Session) updateLocalMediaState() {
	if session.config.MediaSink == nil || session.config.VideoStream == nil {
		return
	}

	// Local preview binding, rendered muted by the sink.
	session.config.MediaSink.BindLocalStream(session.config.VideoStream)
}

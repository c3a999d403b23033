/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v2"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

type inboundEntry struct {
	candidate *webrtc.ICECandidateInit // nil marks remote end-of-candidates.
	done      func(error)
}

// InboundCandidateQueue holds remote ICE candidates which arrive before the
// local signaling state permits applying them to the transport. Candidates
// are applied in arrival order, never before the remote description which
// makes them valid.
type InboundCandidateQueue struct {
	deadlock.Mutex

	conn   Connection
	logger logrus.FieldLogger

	pending []*inboundEntry
	closed  bool
}

func NewInboundCandidateQueue(conn Connection, logger logrus.FieldLogger) *InboundCandidateQueue {
	return &InboundCandidateQueue{
		conn:   conn,
		logger: logger,
	}
}

// Submit hands a remote candidate to the queue. The done callback fires
// exactly once: immediately when the candidate can be applied or rejected
// right away, deferred until the drain on the transition into the stable
// state otherwise.
func (queue *InboundCandidateQueue) Submit(candidate *webrtc.ICECandidateInit, done func(error)) {
	queue.Lock()
	defer queue.Unlock()

	if queue.closed || queue.conn.SignalingState() == webrtc.SignalingStateClosed {
		done(ErrConnectionClosed)
		return
	}

	if queue.conn.SignalingState() == webrtc.SignalingStateStable && queue.conn.RemoteDescription() != nil {
		done(queue.apply(candidate))
		return
	}

	queue.pending = append(queue.pending, &inboundEntry{
		candidate: candidate,
		done:      done,
	})
}

// Flush drains all pending candidates in arrival order, applying each to the
// transport and completing its callback with the outcome. The queue lock is
// held for the whole drain, so no newly submitted candidate can interleave.
func (queue *InboundCandidateQueue) Flush() {
	queue.Lock()
	defer queue.Unlock()

	if queue.closed {
		return
	}

	pending := queue.pending
	queue.pending = nil
	for _, entry := range pending {
		entry.done(queue.apply(entry.candidate))
	}
}

// Close fails all pending entries. Submitted candidates are never silently
// dropped.
func (queue *InboundCandidateQueue) Close() {
	queue.Lock()
	defer queue.Unlock()

	if queue.closed {
		return
	}
	queue.closed = true

	pending := queue.pending
	queue.pending = nil
	for _, entry := range pending {
		entry.done(ErrConnectionClosed)
	}
}

// Len returns the number of currently pending entries.
func (queue *InboundCandidateQueue) Len() int {
	queue.Lock()
	defer queue.Unlock()

	return len(queue.pending)
}

func (queue *InboundCandidateQueue) apply(candidate *webrtc.ICECandidateInit) error {
	if candidate == nil || candidate.Candidate == "" {
		// End-of-candidates, or an empty candidate as sent by some clients
		// when their ICE has finished. Nothing to apply.
		return nil
	}

	if err := queue.conn.AddICECandidate(*candidate); err != nil {
		queue.logger.WithError(err).Debugln("transport rejected remote ice candidate")
		return &CandidateError{Err: fmt.Errorf("failed to add ice candidate: %w", err)}
	}

	return nil
}

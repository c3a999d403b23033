/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"github.com/pion/webrtc/v2"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// OutboundCandidateBuffer holds locally discovered ICE candidates until a
// consumer has registered interest, so early candidates are not lost when
// the application wires its signaling transport after construction. The
// first subscription replays all buffered events in discovery order exactly
// once, then the buffer is decommissioned and delivery happens live.
type OutboundCandidateBuffer struct {
	deadlock.Mutex

	logger logrus.FieldLogger

	buffered   []*webrtc.ICECandidateInit // nil entry marks gathering completion.
	subscribed bool

	gatheringComplete bool

	onCandidate     func(webrtc.ICECandidateInit)
	onGatheringDone func()
}

func NewOutboundCandidateBuffer(logger logrus.FieldLogger) *OutboundCandidateBuffer {
	return &OutboundCandidateBuffer{
		logger: logger,
	}
}

// Publish records a discovered candidate, or the completion marker when nil.
// With a subscriber present, the event is delivered directly. Without one it
// is buffered for replay on the first subscription.
func (buffer *OutboundCandidateBuffer) Publish(candidate *webrtc.ICECandidateInit) {
	buffer.Lock()
	defer buffer.Unlock()

	// The completion flag tracks whether the most recent discovery event was
	// the completion marker. Gathering can resume after an ICE restart.
	buffer.gatheringComplete = candidate == nil

	if !buffer.subscribed {
		buffer.buffered = append(buffer.buffered, candidate)
		return
	}

	buffer.deliver(candidate)
}

// OnCandidate registers the candidate consumer. The first registered
// consumer of either kind triggers the buffered replay.
func (buffer *OutboundCandidateBuffer) OnCandidate(handler func(webrtc.ICECandidateInit)) {
	buffer.Lock()
	defer buffer.Unlock()

	buffer.onCandidate = handler
	buffer.subscribe()
}

// OnGatheringDone registers the gathering completion consumer. The first
// registered consumer of either kind triggers the buffered replay.
func (buffer *OutboundCandidateBuffer) OnGatheringDone(handler func()) {
	buffer.Lock()
	defer buffer.Unlock()

	buffer.onGatheringDone = handler
	buffer.subscribe()
}

// GatheringComplete reports whether the most recently observed discovery
// event was the completion marker.
func (buffer *OutboundCandidateBuffer) GatheringComplete() bool {
	buffer.Lock()
	defer buffer.Unlock()

	return buffer.gatheringComplete
}

func (buffer *OutboundCandidateBuffer) subscribe() {
	if buffer.subscribed {
		return
	}
	buffer.subscribed = true

	buffered := buffer.buffered
	buffer.buffered = nil
	if len(buffered) > 0 {
		buffer.logger.WithField("count", len(buffered)).Debugln("replaying buffered ice candidate events")
	}
	for _, candidate := range buffered {
		if candidate == nil && !buffer.gatheringComplete {
			// A stale completion marker, gathering has resumed since.
			continue
		}
		buffer.deliver(candidate)
	}
}

func (buffer *OutboundCandidateBuffer) deliver(candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		if buffer.onGatheringDone != nil {
			buffer.onGatheringDone()
		}
		return
	}
	if buffer.onCandidate != nil {
		buffer.onCandidate(*candidate)
	}
}

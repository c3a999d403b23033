/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"time"

	"github.com/sasha-s/go-deadlock"
	"nhooyr.io/websocket"

	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
)

// SessionRecord tracks a managed session together with its currently bound
// signaling websocket connection.
type SessionRecord struct {
	deadlock.RWMutex

	when    time.Time
	session *negotiation.Session

	userAgent    string
	simulcast    bool
	multistream  bool
	dataChannels bool

	ws *websocket.Conn
}

// ID returns the identifier of the record's session.
func (record *SessionRecord) ID() string {
	return record.session.ID()
}

// Session returns the record's session.
func (record *SessionRecord) Session() *negotiation.Session {
	return record.session
}

// Resource returns the API representation of the record.
func (record *SessionRecord) Resource() *SessionResource {
	record.RLock()
	defer record.RUnlock()

	return &SessionResource{
		ID:      record.session.ID(),
		Created: record.when,

		UserAgent: record.userAgent,

		Simulcast:    record.simulcast,
		Multistream:  record.multistream,
		DataChannels: record.dataChannels,

		HasLocalDescription:  record.session.LocalDescription() != nil,
		HasRemoteDescription: record.session.RemoteDescription() != nil,
	}
}

// Close tears down the record's session and signaling connection.
func (record *SessionRecord) Close() error {
	record.Lock()
	ws := record.ws
	record.ws = nil
	record.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusGoingAway, "session closed")
	}
	return record.session.Close()
}

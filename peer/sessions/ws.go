/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pion/webrtc/v2"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"stash.kopano.io/kwm/kwmpeer/internal/bpool"
	api "stash.kopano.io/kwm/kwmpeer/peer/api-v0"
)

const (
	websocketSubProtocol    = "kwmpeer-protocol"
	websocketMaxMessageSize = 1048576 // 100 KiB, same as the signaling server uses.
)

// HTTPSessionWebsocketHandler upgrades the request to the signaling websocket
// of a session. Subscribing the websocket replays all locally discovered
// candidates which were gathered before the client connected.
func (m *Manager) HTTPSessionWebsocketHandler(rw http.ResponseWriter, req *http.Request) {
	sessionID, _ := api.GetRequestVar(req, "sessionID")
	record := m.getSessionRecordOrWriteError(sessionID, rw)
	if record == nil {
		return
	}

	ws, err := websocket.Accept(rw, req, &websocket.AcceptOptions{
		Subprotocols: []string{websocketSubProtocol},
	})
	if err != nil {
		m.logger.WithError(err).Errorln("failed to accept signaling websocket")
		return
	}
	ws.SetReadLimit(websocketMaxMessageSize)

	logger := m.logger.WithField("session", record.ID())
	logger.Debugln("signaling websocket connected")

	record.serveWebsocket(m.ctx, ws, logger)
}

type websocketWriter struct {
	deadlock.Mutex

	ctx    context.Context
	ws     *websocket.Conn
	logger logrus.FieldLogger
}

func (writer *websocketWriter) sendMessage(message *WebsocketMessage) {
	b, err := json.Marshal(message)
	if err != nil {
		writer.logger.WithError(err).Errorln("failed to encode signaling websocket message")
		return
	}

	writer.Lock()
	defer writer.Unlock()
	if err = writer.ws.Write(writer.ctx, websocket.MessageText, b); err != nil {
		writer.logger.WithError(err).Debugln("failed to write signaling websocket message")
	}
}

func (writer *websocketWriter) sendSignal(sessionID string, signal *WebRTCSignal) {
	data, err := json.Marshal(signal)
	if err != nil {
		writer.logger.WithError(err).Errorln("failed to encode webrtc signal")
		return
	}

	writer.sendMessage(&WebsocketMessage{
		Type:    "webrtc",
		Session: sessionID,
		Data:    data,
	})
}

func (writer *websocketWriter) sendError(sessionID string, code string, message string) {
	writer.sendMessage(&WebsocketMessage{
		Type:    "error",
		Session: sessionID,
		Error: &WebsocketError{
			Code:    code,
			Message: message,
		},
	})
}

func (record *SessionRecord) serveWebsocket(parentCtx context.Context, ws *websocket.Conn, logger logrus.FieldLogger) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	record.Lock()
	if old := record.ws; old != nil {
		old.Close(websocket.StatusGoingAway, "replaced by new connection")
	}
	record.ws = ws
	record.Unlock()

	session := record.session
	writer := &websocketWriter{
		ctx:    ctx,
		ws:     ws,
		logger: logger,
	}

	// Subscribing drains the candidate buffer, replaying everything which was
	// discovered while no signaling connection was attached.
	session.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		writer.sendSignal(session.ID(), &WebRTCSignal{
			Type:      "candidate",
			Candidate: &candidate,
		})
	})
	session.OnCandidateGatheringDone(func() {
		// An empty candidate marks the end of gathering on the wire.
		writer.sendSignal(session.ID(), &WebRTCSignal{
			Type: "candidate",
		})
	})

	readPumpErr := record.readPump(ctx, ws, writer, logger)
	if readPumpErr != nil {
		logger.WithError(readPumpErr).Debugln("signaling websocket read pump exit")
	}

	record.Lock()
	if record.ws == ws {
		record.ws = nil
	}
	record.Unlock()

	ws.Close(websocket.StatusNormalClosure, "")
	logger.Debugln("signaling websocket disconnected")
}

func (record *SessionRecord) readPump(ctx context.Context, ws *websocket.Conn, writer *websocketWriter, logger logrus.FieldLogger) error {
	var mt websocket.MessageType
	var reader io.Reader
	var b *bytes.Buffer
	var err error
	for {
		mt, reader, err = ws.Reader(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("signaling websocket close")
				return nil
			}
			return err
		}

		b = bpool.Get()
		if _, err = b.ReadFrom(reader); err != nil {
			bpool.Put(b)
			return err
		}

		switch mt {
		case websocket.MessageText:
		default:
			logger.WithField("message_type", mt).Warnln("signaling websocket received unknown message type")
			bpool.Put(b)
			continue
		}

		message := &WebsocketMessage{}
		err = json.Unmarshal(b.Bytes(), message)
		bpool.Put(b)
		if err != nil {
			logger.WithError(err).Errorln("signaling websocket message parse error")
			continue
		}

		switch message.Type {
		case "webrtc":
			record.handleWebsocketSignal(message, writer, logger)

		default:
			logger.WithField("type", message.Type).Warnln("signaling websocket received unknown message")
		}
	}
}

func (record *SessionRecord) handleWebsocketSignal(message *WebsocketMessage, writer *websocketWriter, logger logrus.FieldLogger) {
	session := record.session

	signal := &WebRTCSignal{}
	if err := json.Unmarshal(message.Data, signal); err != nil {
		logger.WithError(err).Errorln("webrtc signal parse error")
		writer.sendError(session.ID(), "ErrorBadSignal", "failed to parse webrtc signal")
		return
	}

	switch signal.Type {
	case "offer":
		answerSDP, err := session.ProcessOffer(signal.SDP)
		if err != nil {
			logger.WithError(err).Errorln("failed to process remote offer")
			writer.sendError(session.ID(), "ErrorProcessOffer", err.Error())
			return
		}
		writer.sendSignal(session.ID(), &WebRTCSignal{
			Type: "answer",
			SDP:  answerSDP,
		})

	case "answer":
		if err := session.ProcessAnswer(signal.SDP); err != nil {
			logger.WithError(err).Errorln("failed to process remote answer")
			writer.sendError(session.ID(), "ErrorProcessAnswer", err.Error())
		}

	case "candidate":
		var candidate webrtc.ICECandidateInit
		if signal.Candidate != nil {
			candidate = *signal.Candidate
		}
		session.AddICECandidate(candidate, func(err error) {
			if err != nil {
				logger.WithError(err).Warnln("failed to add remote candidate")
				writer.sendError(session.ID(), "ErrorAddCandidate", err.Error())
			}
		})

	default:
		logger.WithField("signal", signal.Type).Warnln("unknown webrtc signal type")
	}
}

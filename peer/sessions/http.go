/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"encoding/json"
	"net/http"

	"github.com/pion/webrtc/v2"

	api "stash.kopano.io/kwm/kwmpeer/peer/api-v0"
)

func (m *Manager) HTTPSessionsHandler(rw http.ResponseWriter, req *http.Request) {
	sessionID, _ := api.GetRequestVar(req, "sessionID")

	switch req.Method {
	case http.MethodGet:
		var resource interface{}
		if sessionID == "" {
			var values []interface{}
			for _, record := range m.Sessions() {
				values = append(values, record.Resource())
			}
			resource = api.NewCollectionResource(values, req, nil)
		} else {
			record := m.getSessionRecordOrWriteError(sessionID, rw)
			if record == nil {
				return
			}
			resource = api.NewItemResource(record.Resource(), req)
		}

		if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json response")
		}

	case http.MethodPost:
		if sessionID != "" {
			http.Error(rw, "", http.StatusMethodNotAllowed)
			return
		}
		m.httpCreateSession(rw, req)

	case http.MethodDelete:
		if sessionID == "" {
			http.Error(rw, "", http.StatusMethodNotAllowed)
			return
		}
		if !m.DestroySession(sessionID) {
			m.writeSessionNotFound(rw)
			return
		}
		rw.WriteHeader(http.StatusNoContent)

	default:
		http.Error(rw, "", http.StatusMethodNotAllowed)
	}
}

func (m *Manager) httpCreateSession(rw http.ResponseWriter, req *http.Request) {
	request := &SessionCreateRequest{}
	if parseErr := json.NewDecoder(req.Body).Decode(request); parseErr != nil {
		if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeBadRequest,
			"failed to parse session create request",
			api.ErrBadRequest,
		)); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return
	}

	record, err := m.CreateSession(request)
	if err != nil {
		if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return
	}

	rw.WriteHeader(http.StatusCreated)
	if writeErr := api.WriteResourceAsItemResourceResponseJSON(rw, req, record.Resource()); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

// HTTPSessionSignalHandler processes a single webrtc signal for a session,
// replying with the resulting signal. It covers the offer, answer and
// candidate flows for clients which do not use the signaling websocket.
func (m *Manager) HTTPSessionSignalHandler(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "", http.StatusMethodNotAllowed)
		return
	}

	sessionID, _ := api.GetRequestVar(req, "sessionID")
	record := m.getSessionRecordOrWriteError(sessionID, rw)
	if record == nil {
		return
	}

	signal := &WebRTCSignal{}
	if parseErr := json.NewDecoder(req.Body).Decode(signal); parseErr != nil {
		if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeBadRequest,
			"failed to parse webrtc signal",
			api.ErrBadRequest,
		)); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return
	}

	reply, err := m.processSignal(record, signal)
	if err != nil {
		if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return
	}

	if writeErr := api.WriteResourceAsItemResourceResponseJSON(rw, req, reply); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

// HTTPSessionOfferHandler creates the local offer of a session and replies
// with the offer signal.
func (m *Manager) HTTPSessionOfferHandler(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "", http.StatusMethodNotAllowed)
		return
	}

	sessionID, _ := api.GetRequestVar(req, "sessionID")
	record := m.getSessionRecordOrWriteError(sessionID, rw)
	if record == nil {
		return
	}

	offerSDP, _, err := record.Session().GenerateOffer()
	if err != nil {
		if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return
	}

	reply := &WebRTCSignal{
		Type: "offer",
		SDP:  offerSDP,
	}
	if writeErr := api.WriteResourceAsItemResourceResponseJSON(rw, req, reply); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) processSignal(record *SessionRecord, signal *WebRTCSignal) (*WebRTCSignal, error) {
	session := record.Session()

	switch signal.Type {
	case "offer":
		answerSDP, err := session.ProcessOffer(signal.SDP)
		if err != nil {
			return nil, err
		}
		return &WebRTCSignal{
			Type: "answer",
			SDP:  answerSDP,
		}, nil

	case "answer":
		if err := session.ProcessAnswer(signal.SDP); err != nil {
			return nil, err
		}
		return &WebRTCSignal{
			Noop: true,
		}, nil

	case "candidate":
		var candidate webrtc.ICECandidateInit
		if signal.Candidate != nil {
			candidate = *signal.Candidate
		}
		session.AddICECandidate(candidate, nil)
		return &WebRTCSignal{
			Noop: true,
		}, nil

	default:
		return nil, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeBadRequest,
			"unknown webrtc signal type",
			api.ErrBadRequest,
		)
	}
}

func (m *Manager) getSessionRecordOrWriteError(sessionID string, rw http.ResponseWriter) *SessionRecord {
	record, exists := m.GetSession(sessionID)
	if !exists {
		m.writeSessionNotFound(rw)
		return nil
	}
	return record
}

func (m *Manager) writeSessionNotFound(rw http.ResponseWriter) {
	if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
		"ErrorMessageSessionNotFound",
		"The specified session was not found",
		api.ErrNotFound,
	)); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json error")
	}
}

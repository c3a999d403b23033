/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	apiv0 "stash.kopano.io/kwm/kwmpeer/peer/api-v0/service"
	"stash.kopano.io/kwm/kwmpeer/peer/sessions"
)

func dialSessionWebsocket(ctx context.Context, t *testing.T, baseURL string, sessionID string) *websocket.Conn {
	t.Helper()

	uri := strings.Replace(baseURL, "http:", "ws:", 1) + apiv0.URIPrefix + "/peer/sessions/" + sessionID + "/websocket"
	ws, _, err := websocket.Dial(ctx, uri, &websocket.DialOptions{
		Subprotocols: []string{"kwmpeer-protocol"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func readSignal(ctx context.Context, t *testing.T, ws *websocket.Conn) (*sessions.WebsocketMessage, *sessions.WebRTCSignal) {
	t.Helper()

	_, b, err := ws.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	message := &sessions.WebsocketMessage{}
	if err = json.Unmarshal(b, message); err != nil {
		t.Fatal(err)
	}
	signal := &sessions.WebRTCSignal{}
	if message.Type == "webrtc" {
		if err = json.Unmarshal(message.Data, signal); err != nil {
			t.Fatal(err)
		}
	}
	return message, signal
}

func writeSignal(ctx context.Context, t *testing.T, ws *websocket.Conn, sessionID string, signal *sessions.WebRTCSignal) {
	t.Helper()

	data, err := json.Marshal(signal)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(&sessions.WebsocketMessage{
		Type:    "webrtc",
		Session: sessionID,
		Data:    data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = ws.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatal(err)
	}
}

func TestWebsocketCandidateReplay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, _, lastConn := newTestService(ctx, t)

	response := postJSON(t, s.URL+apiv0.URIPrefix+"/peer/sessions", &sessions.SessionCreateRequest{ID: "session-1"})
	response.Body.Close()
	conn := lastConn()

	// Candidates gathered before any signaling connection attached.
	conn.discoverCandidate("candidate:0")
	conn.discoverCandidate("candidate:1")

	ws := dialSessionWebsocket(ctx, t, s.URL, "session-1")
	defer ws.Close(websocket.StatusNormalClosure, "")

	for i, want := range []string{"candidate:0", "candidate:1"} {
		message, signal := readSignal(ctx, t, ws)
		if message.Type != "webrtc" || signal.Type != "candidate" {
			t.Fatalf("message %d got type %q signal %q", i, message.Type, signal.Type)
		}
		if signal.Candidate == nil || signal.Candidate.Candidate != want {
			t.Errorf("replayed candidate %d got %v want %q", i, signal.Candidate, want)
		}
	}
}

func TestWebsocketOfferAnswer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, _, lastConn := newTestService(ctx, t)

	response := postJSON(t, s.URL+apiv0.URIPrefix+"/peer/sessions", &sessions.SessionCreateRequest{ID: "session-1"})
	response.Body.Close()
	conn := lastConn()

	ws := dialSessionWebsocket(ctx, t, s.URL, "session-1")
	defer ws.Close(websocket.StatusNormalClosure, "")

	writeSignal(ctx, t, ws, "session-1", &sessions.WebRTCSignal{
		Type: "offer",
		SDP:  "v=0\r\n",
	})

	message, signal := readSignal(ctx, t, ws)
	if message.Type != "webrtc" {
		t.Fatalf("reply message type got %q", message.Type)
	}
	if signal.Type != "answer" || signal.SDP != conn.answerSDP {
		t.Errorf("answer signal got %+v", signal)
	}
}

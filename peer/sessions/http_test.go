/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"stash.kopano.io/kwm/kwmpeer/peer"
	apiv0 "stash.kopano.io/kwm/kwmpeer/peer/api-v0/service"
	"stash.kopano.io/kwm/kwmpeer/peer/sessions"
)

func newTestService(ctx context.Context, t *testing.T) (*httptest.Server, *sessions.Manager, func() *fakeConn) {
	m, lastConn := newTestManager(ctx, t)

	services := &peer.Services{
		SessionManager: m,
	}
	router := mux.NewRouter()
	service := apiv0.NewHTTPService(ctx, logger, services)
	service.AddRoutes(ctx, router, alice.New())

	s := httptest.NewServer(router)
	t.Cleanup(s.Close)

	return s, m, lastConn
}

func postJSON(t *testing.T, uri string, request interface{}) *http.Response {
	t.Helper()

	b, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}
	response, err := http.Post(uri, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return response
}

func decodeJSON(t *testing.T, response *http.Response, v interface{}) {
	t.Helper()

	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPSessionsLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, _ := newTestService(ctx, t)
	base := s.URL + apiv0.URIPrefix + "/peer/sessions"

	// Create.
	response := postJSON(t, base, &sessions.SessionCreateRequest{ID: "session-1"})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("create status got %d want %d", response.StatusCode, http.StatusCreated)
	}
	created := &sessions.SessionResource{}
	decodeJSON(t, response, created)
	if created.ID != "session-1" {
		t.Errorf("created session id got %q", created.ID)
	}

	// List.
	response, err := http.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("list status got %d", response.StatusCode)
	}
	listed := &struct {
		ODataContext string                      `json:"@odata.context"`
		Values       []*sessions.SessionResource `json:"values"`
	}{}
	decodeJSON(t, response, listed)
	if listed.ODataContext == "" {
		t.Errorf("collection resource without odata context")
	}
	if len(listed.Values) != 1 || listed.Values[0].ID != "session-1" {
		t.Errorf("list values got %v", listed.Values)
	}

	// Get single.
	response, err = http.Get(base + "/session-1")
	if err != nil {
		t.Fatal(err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("get status got %d", response.StatusCode)
	}
	response.Body.Close()

	// Delete.
	request, _ := http.NewRequest(http.MethodDelete, base+"/session-1", nil)
	response, err = http.DefaultClient.Do(request)
	if err != nil {
		t.Fatal(err)
	}
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status got %d", response.StatusCode)
	}
	response.Body.Close()

	// Get after delete.
	response, err = http.Get(base + "/session-1")
	if err != nil {
		t.Fatal(err)
	}
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status got %d", response.StatusCode)
	}
	response.Body.Close()
}

func TestHTTPSessionSignalOfferAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, lastConn := newTestService(ctx, t)
	base := s.URL + apiv0.URIPrefix + "/peer/sessions"

	response := postJSON(t, base, &sessions.SessionCreateRequest{ID: "session-1"})
	response.Body.Close()
	conn := lastConn()

	// Candidate before any description is queued, not applied.
	response = postJSON(t, base+"/session-1/signal", &sessions.WebRTCSignal{
		Type:      "candidate",
		Candidate: newCandidateInit("candidate:0"),
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("candidate signal status got %d", response.StatusCode)
	}
	response.Body.Close()
	if len(conn.added) != 0 {
		t.Fatalf("candidate applied before remote description")
	}

	// Remote offer produces the local answer and releases the candidate.
	response = postJSON(t, base+"/session-1/signal", &sessions.WebRTCSignal{
		Type: "offer",
		SDP:  "v=0\r\n",
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("offer signal status got %d", response.StatusCode)
	}
	answer := &sessions.WebRTCSignal{}
	decodeJSON(t, response, answer)
	if answer.Type != "answer" || answer.SDP != conn.answerSDP {
		t.Errorf("answer signal got %+v", answer)
	}
	if len(conn.added) != 1 || conn.added[0].Candidate != "candidate:0" {
		t.Errorf("queued candidate not applied, got %v", conn.added)
	}
}

func TestHTTPSessionOffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, lastConn := newTestService(ctx, t)
	base := s.URL + apiv0.URIPrefix + "/peer/sessions"

	response := postJSON(t, base, &sessions.SessionCreateRequest{ID: "session-1"})
	response.Body.Close()
	conn := lastConn()

	response = postJSON(t, base+"/session-1/offer", nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("offer status got %d", response.StatusCode)
	}
	offer := &sessions.WebRTCSignal{}
	decodeJSON(t, response, offer)
	if offer.Type != "offer" || offer.SDP != conn.offerSDP {
		t.Errorf("offer signal got %+v", offer)
	}
}

func TestHTTPSessionSignalUnknownType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, _ := newTestService(ctx, t)
	base := s.URL + apiv0.URIPrefix + "/peer/sessions"

	response := postJSON(t, base, &sessions.SessionCreateRequest{ID: "session-1"})
	response.Body.Close()

	response = postJSON(t, base+"/session-1/signal", &sessions.WebRTCSignal{
		Type: "bogus",
	})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus signal status got %d", response.StatusCode)
	}
	response.Body.Close()
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmpeer/peer"
	"stash.kopano.io/kwm/kwmpeer/peer/odata"
	"stash.kopano.io/kwm/kwmpeer/peer/sessions"
)

const (
	URIPrefix = "/api/kwmpeer/v0"
)

// HTTPService binds the HTTP router with handlers for the kwmpeer API v0.
type HTTPService struct {
	logger   logrus.FieldLogger
	services *peer.Services
}

// NewHTTPService creates a new HTTPService with the provided options.
func NewHTTPService(ctx context.Context, logger logrus.FieldLogger, services *peer.Services) *HTTPService {
	return &HTTPService{
		logger:   logger,
		services: services,
	}
}

// AddRoutes configures the services HTTP end point routing on the provided
// context and router.
func (h *HTTPService) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	v0 := router.PathPrefix(URIPrefix).Subrouter()
	chain = chain.Append(odata.WithOData)

	if sm, ok := h.services.SessionManager.(*sessions.Manager); ok {
		r := v0.PathPrefix("/peer").Subrouter()

		// /api/kwmpeer/v0/peer/sessions
		// /api/kwmpeer/v0/peer/sessions/:session
		// /api/kwmpeer/v0/peer/sessions/:session/offer
		// /api/kwmpeer/v0/peer/sessions/:session/signal
		// /api/kwmpeer/v0/peer/sessions/:session/websocket
		r.Handle("/sessions", chain.ThenFunc(sm.HTTPSessionsHandler))
		r.Handle("/sessions/{sessionID}", chain.ThenFunc(sm.HTTPSessionsHandler))
		r.Handle("/sessions/{sessionID}/offer", chain.ThenFunc(sm.HTTPSessionOfferHandler))
		r.Handle("/sessions/{sessionID}/signal", chain.ThenFunc(sm.HTTPSessionSignalHandler))
		r.Handle("/sessions/{sessionID}/websocket", chain.ThenFunc(sm.HTTPSessionWebsocketHandler))
	}

	return router
}

// NumActive returns the number of the currently active connections at the
// accociated HTTPService.
func (h *HTTPService) NumActive() (active uint64) {
	for _, service := range h.services.Services() {
		active += service.NumActive()
	}

	return active
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmpeer/config"
	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
	"stash.kopano.io/kwm/kwmpeer/internal/rtc"
)

// Manager handles the life cycle of negotiation sessions and exposes them
// through the HTTP and websocket signaling APIs.
type Manager struct {
	logger logrus.FieldLogger
	ctx    context.Context
	config *cfg.Config

	factory negotiation.ConnectionFactory

	wg       sync.WaitGroup
	sessions cmap.ConcurrentMap

	createdTotal prometheus.Counter
	active       prometheus.Gauge
}

// NewManager creates a session manager bound to the provided context and
// server configuration.
func NewManager(ctx context.Context, config *cfg.Config) (*Manager, error) {
	m := &Manager{
		logger: config.Logger.WithField("manager", "sessions"),
		ctx:    ctx,
		config: config,

		factory: rtc.NewConnectionFactory(ctx, config, config.Logger),

		sessions: cmap.New(),
	}

	if config.Metrics != nil {
		m.createdTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessions",
			Name:      "created_total",
			Help:      "Total number of created sessions",
		})
		m.active = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessions",
			Name:      "active",
			Help:      "Number of currently active sessions",
		})
		config.Metrics.MustRegister(m.createdTotal, m.active)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ctx.Done()
		m.shutdown()
	}()

	return m, nil
}

// SetConnectionFactory replaces the transport factory used for new sessions.
func (m *Manager) SetConnectionFactory(factory negotiation.ConnectionFactory) {
	m.factory = factory
}

// CreateSession creates and registers a session from the provided request.
func (m *Manager) CreateSession(request *SessionCreateRequest) (*SessionRecord, error) {
	if request == nil {
		request = &SessionCreateRequest{}
	}

	sessionConfig := &negotiation.Config{
		ID: request.ID,

		Logger: m.logger,

		ConnectionFactory: m.factory,

		Simulcast:   request.Simulcast,
		Multistream: request.Multistream,

		RemoteUserAgent: request.UserAgent,

		DataChannels: request.DataChannels,
	}
	if request.Audio != nil || request.Video != nil {
		sessionConfig.MediaConstraints = &negotiation.MediaConstraints{
			Audio: request.Audio,
			Video: request.Video,
		}
	}
	if request.Stream != nil {
		sessionConfig.VideoStream = &negotiation.StreamInfo{
			ID:          request.Stream.ID,
			AudioTracks: request.Stream.AudioTracks,
			VideoTracks: request.Stream.VideoTracks,
		}
	}

	session, err := negotiation.NewSession(sessionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	record := &SessionRecord{
		when:    time.Now(),
		session: session,

		userAgent:    request.UserAgent,
		simulcast:    request.Simulcast,
		multistream:  request.Multistream,
		dataChannels: request.DataChannels,
	}

	if ok := m.sessions.SetIfAbsent(session.ID(), record); !ok {
		session.Close()
		return nil, fmt.Errorf("session id already in use")
	}

	if m.createdTotal != nil {
		m.createdTotal.Inc()
		m.active.Inc()
	}
	m.logger.WithField("session", session.ID()).Debugln("session created")

	return record, nil
}

// GetSession fetches the record of the session with the provided id.
func (m *Manager) GetSession(id string) (*SessionRecord, bool) {
	record, exists := m.sessions.Get(id)
	if !exists {
		return nil, false
	}
	return record.(*SessionRecord), true
}

// DestroySession removes and closes the session with the provided id.
func (m *Manager) DestroySession(id string) bool {
	record, exists := m.sessions.Pop(id)
	if !exists {
		return false
	}

	if closeErr := record.(*SessionRecord).Close(); closeErr != nil {
		m.logger.WithError(closeErr).WithField("session", id).Warnln("error while closing session")
	}
	if m.active != nil {
		m.active.Dec()
	}
	m.logger.WithField("session", id).Debugln("session destroyed")

	return true
}

// Sessions returns the records of all currently registered sessions.
func (m *Manager) Sessions() []*SessionRecord {
	records := make([]*SessionRecord, 0, m.sessions.Count())
	for entry := range m.sessions.IterBuffered() {
		records = append(records, entry.Val.(*SessionRecord))
	}
	return records
}

// NumActive returns the number of currently registered sessions.
func (m *Manager) NumActive() uint64 {
	return uint64(m.sessions.Count())
}

// Wait blocks until the manager's context ended and shutdown completed.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) shutdown() {
	for _, record := range m.Sessions() {
		m.DestroySession(record.ID())
	}
	m.logger.Debugln("session manager stopped")
}

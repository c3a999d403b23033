/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pion/webrtc/v2"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmpeer/config"
	"stash.kopano.io/kwm/kwmpeer/internal/negotiation"
)

// Public fallback STUN servers, used when no ICE servers are configured.
var defaultICEServerURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var peerConnectionIDcounter uint64 = 0

// Connection wraps a pion peer connection as the transport capability
// consumed by negotiation sessions.
type Connection struct {
	*webrtc.PeerConnection

	id     string
	ctx    context.Context
	logger logrus.FieldLogger

	dcMutex        deadlock.Mutex
	onDataChannel  func(negotiation.DataChannel)
	openedChannels []negotiation.DataChannel
}

// NewConnectionFactory returns a factory which creates pion backed transport
// connections with the server configuration applied.
func NewConnectionFactory(ctx context.Context, config *cfg.Config, logger logrus.FieldLogger) negotiation.ConnectionFactory {
	return func(sessionConfig *negotiation.Config) (negotiation.Connection, error) {
		return NewConnection(ctx, config, sessionConfig, logger)
	}
}

// newConfiguration builds the peer connection configuration. Multistream
// sessions use unified plan SDP semantics; other sessions offer unified plan
// with plan-b fallback so legacy answerers keep working.
func newConfiguration(config *cfg.Config, sessionConfig *negotiation.Config) webrtc.Configuration {
	iceServerURLs := config.ICEServers
	if len(iceServerURLs) == 0 {
		iceServerURLs = defaultICEServerURLs
	}

	semantics := webrtc.SDPSemanticsUnifiedPlanWithFallback
	if sessionConfig.Multistream {
		semantics = webrtc.SDPSemanticsUnifiedPlan
	}

	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			webrtc.ICEServer{
				URLs: iceServerURLs,
			},
		},
		SDPSemantics: semantics,
	}
}

// NewConnection creates a pion peer connection configured from the server
// config and the per-session config.
func NewConnection(ctx context.Context, config *cfg.Config, sessionConfig *negotiation.Config, logger logrus.FieldLogger) (*Connection, error) {
	s := webrtc.SettingEngine{
		LoggerFactory: &loggerFactory{logger},
	}
	s.SetTrickle(true)
	if config.ICELite {
		s.SetLite(true)
	}

	if len(config.ICEInterfaces) > 0 {
		logger.WithField("interfaces", config.ICEInterfaces).Debugln("enabling ICE interface filter")
		iceInterfaceFilterMap := make(map[string]bool)
		for _, ifName := range config.ICEInterfaces {
			iceInterfaceFilterMap[ifName] = true
		}
		s.SetInterfaceFilter(func(i string) bool {
			return iceInterfaceFilterMap[i]
		})
	}

	if len(config.ICENetworkTypes) > 0 {
		candidateTypes := make([]webrtc.NetworkType, 0)
		for _, networkTypeString := range config.ICENetworkTypes {
			var nt webrtc.NetworkType
			switch strings.ToLower(networkTypeString) {
			case "udp4":
				nt = webrtc.NetworkTypeUDP4
			case "udp6":
				nt = webrtc.NetworkTypeUDP6
			case "tcp4":
				nt = webrtc.NetworkTypeTCP4
			case "tcp6":
				nt = webrtc.NetworkTypeTCP6
			default:
				logger.WithField("type", networkTypeString).Warnln("unsupported network type, skipped")
				continue
			}
			candidateTypes = append(candidateTypes, nt)
		}
		logger.WithField("types", candidateTypes).Debugln("enabling limit of ICE candidate network type")
		s.SetNetworkTypes(candidateTypes)
	}

	if config.ICEEphemeralUDPPortRange[1] != 0 {
		if err := s.SetEphemeralUDPPortRange(config.ICEEphemeralUDPPortRange[0], config.ICEEphemeralUDPPortRange[1]); err != nil {
			return nil, fmt.Errorf("failed to set ICE port range: %w", err)
		}
	}

	rtcpfb := []webrtc.RTCPFeedback{
		webrtc.RTCPFeedback{
			Type: webrtc.TypeRTCPFBGoogREMB,
		},
		webrtc.RTCPFeedback{
			Type: webrtc.TypeRTCPFBCCM,
		},
		webrtc.RTCPFeedback{
			Type: webrtc.TypeRTCPFBNACK,
		},
		webrtc.RTCPFeedback{
			Type: "nack pli",
		},
	}
	m := webrtc.MediaEngine{}
	m.RegisterCodec(webrtc.NewRTPOpusCodec(webrtc.DefaultPayloadTypeOpus, 48000))
	m.RegisterCodec(webrtc.NewRTPVP8CodecExt(webrtc.DefaultPayloadTypeVP8, 90000, rtcpfb, ""))

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s))

	pc, err := api.NewPeerConnection(newConfiguration(config, sessionConfig))
	if err != nil {
		return nil, fmt.Errorf("error creating peer connection: %w", err)
	}

	id := atomic.AddUint64(&peerConnectionIDcounter, 1)

	conn := &Connection{
		PeerConnection: pc,

		id:     strconv.FormatUint(id, 10),
		ctx:    ctx,
		logger: logger.WithField("pcid", id),
	}

	conn.setupMedia(sessionConfig)
	if err = conn.setupDataChannels(sessionConfig); err != nil {
		pc.Close()
		return nil, err
	}

	return conn, nil
}

// ID returns the connection identifier.
func (conn *Connection) ID() string {
	return conn.id
}

// OnICECandidate adapts pion's candidate notifications to candidate init
// values. The end of gathering is signaled with nil.
func (conn *Connection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	conn.PeerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			conn.logger.Debugln("ICE gathering complete")
			handler(nil)
			return
		}
		candidateInit := candidate.ToJSON()
		handler(&candidateInit)
	})
}

// AddTransceiver adds a sendrecv transceiver of the provided kind.
func (conn *Connection) AddTransceiver(kind webrtc.RTPCodecType) error {
	_, err := conn.PeerConnection.AddTransceiverFromKind(kind, webrtc.RtpTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	return err
}

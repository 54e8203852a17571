/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries controller events beyond the local process.
package eventbus

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/config"
	"github.com/friendsincode/gclsync/internal/events"
)

// Bus is implemented by every transport.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// Memory wraps the in-process bus.
type Memory struct {
	*events.Bus
}

// Close implements Bus.
func (Memory) Close() error { return nil }

// New selects the transport configured by cfg.
func New(cfg *config.Config, nodeID string, logger zerolog.Logger) Bus {
	switch cfg.EventBus {
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)
	default:
		return Memory{events.NewBus()}
	}
}

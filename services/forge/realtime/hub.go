// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// HubConfig configures a Hub.
type HubConfig struct {
	// CheckOrigin decides whether an upgrade request is accepted.
	// Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a websocket Broadcaster with per-channel subscriptions.
//
// # Description
//
// Each subscriber owns a buffered send queue drained by its own writer
// goroutine. When the queue is full the event is dropped for that
// subscriber only.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Publish implements Broadcaster.
func (h *Hub) Publish(_ context.Context, channel, event string, data any) {
	payload, err := json.Marshal(Event{Channel: channel, Type: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("realtime: encode event failed", "channel", channel, "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		select {
		case sub.send <- payload:
		default:
			h.logger.Warn("realtime: subscriber queue full, dropping event", "channel", channel, "event", event)
		}
	}
}

// Subscribers returns the number of live subscribers of a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Serve upgrades the request and streams channel events until the client
// disconnects or the Hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize)}
	if !h.add(channel, sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return conn.Close()
	}
	h.logger.Info("realtime: subscriber connected", "channel", channel)

	done := make(chan struct{})
	go h.writeLoop(sub, done)

	// Read until the peer goes away. Incoming messages are ignored.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(channel, sub)
	<-done
	h.logger.Info("realtime: subscriber disconnected", "channel", channel)
	return nil
}

func (h *Hub) writeLoop(sub *subscriber, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(channel string, sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscriber]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	return true
}

func (h *Hub) remove(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[channel]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}

// Close disconnects every subscriber. Later Serve calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for channel, set := range h.subs {
		for sub := range set {
			close(sub.send)
		}
		delete(h.subs, channel)
	}
}

var _ Broadcaster = (*Hub)(nil)
var _ Broadcaster = Nop{}

package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/service"
)

// EventSource is the inbound side of a platform gateway
type EventSource interface {
	// OnEvent registers the handler invoked for every inbound message
	OnEvent(handler func(ev *domain.InboundEvent))

	// Start connects and blocks until Stop or a connection error
	Start() error

	// Stop disconnects the gateway
	Stop()
}

const (
	seenTTL       = 5 * time.Minute
	eventQueueLen = 256
)

// Server feeds gateway events through a bounded worker pool into the
// pipeline. Duplicate deliveries are dropped, and a channel with an
// event already in flight ignores overlapping events so context reads
// never race a fast-follow message.
type Server struct {
	source   EventSource
	pipeline *service.Pipeline
	workers  int

	events chan *domain.InboundEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seen     map[string]time.Time
	busy     map[string]bool
	lastSeen time.Time
	closed   bool
}

// NewServer creates a server with the given worker pool size
func NewServer(source EventSource, pipeline *service.Pipeline, workers int) *Server {
	if workers < 1 {
		workers = 1
	}
	return &Server{
		source:   source,
		pipeline: pipeline,
		workers:  workers,
		events:   make(chan *domain.InboundEvent, eventQueueLen),
		seen:     make(map[string]time.Time),
		busy:     make(map[string]bool),
	}
}

// Start spawns the workers and runs the gateway connection, blocking
// until Stop
func (s *Server) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.source.OnEvent(s.enqueue)

	fmt.Printf("[Server] Starting gateway with %d workers\n", s.workers)
	return s.source.Start()
}

// Stop disconnects the gateway and drains the workers. Gateway
// callbacks can still arrive after Stop; marking the queue closed
// under the mutex keeps a late enqueue from hitting a closed channel.
func (s *Server) Stop() {
	s.source.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// enqueue filters an inbound event into the worker queue
func (s *Server) enqueue(ev *domain.InboundEvent) {
	if s.isDuplicate(ev.EventID) {
		return
	}
	if !wantsReply(ev) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		fmt.Printf("[Server] Event queue full, dropping event %s\n", ev.EventID)
	}
}

// wantsReply keeps only events the bot should act on: direct
// messages, mentions, replies to the bot, and its own self-service
// commands
func wantsReply(ev *domain.InboundEvent) bool {
	return ev.Addressed() || service.IsCommand(ev.Text)
}

// isDuplicate records the event ID and reports whether it was already
// seen within the TTL. Gateways can redeliver on reconnect.
func (s *Server) isDuplicate(eventID string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSeen) > seenTTL {
		for id, at := range s.seen {
			if now.Sub(at) > seenTTL {
				delete(s.seen, id)
			}
		}
		s.lastSeen = now
	}

	if _, dup := s.seen[eventID]; dup {
		return true
	}
	s.seen[eventID] = now
	return false
}

// acquireChannel claims a channel for one in-flight event
func (s *Server) acquireChannel(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[channelID] {
		return false
	}
	s.busy[channelID] = true
	return true
}

func (s *Server) releaseChannel(channelID string) {
	s.mu.Lock()
	delete(s.busy, channelID)
	s.mu.Unlock()
}

func (s *Server) worker() {
	defer s.wg.Done()
	for ev := range s.events {
		if s.ctx.Err() != nil {
			return
		}
		if !s.acquireChannel(ev.ChannelID) {
			fmt.Printf("[Server] Channel %s busy, ignoring event %s\n", ev.ChannelID, ev.EventID)
			continue
		}
		outcome := s.pipeline.Handle(s.ctx, ev)
		s.releaseChannel(ev.ChannelID)

		if outcome.Stage == service.StageFailed {
			fmt.Printf("[Server] Event %s failed at %s: %v\n", ev.EventID, outcome.At, outcome.Err)
		}
	}
}

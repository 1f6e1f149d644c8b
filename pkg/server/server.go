// Package server implements the server core: the two registries
// (identified clients by name, rooms by name), the per-tag dispatch table,
// the identification gate, and fan-out/relay routing. One Server serves
// any number of accepted connections; every handler invocation runs with
// the server's single mutex held for its whole duration, giving handlers
// the same (decode -> dispatch -> mutate -> reply) atomicity spec.md §5
// asks of a single-threaded event loop, achieved here with a critical
// section instead of single-threadedness.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/perbu/ircsrv/pkg/conn"
	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/logging"
	"github.com/perbu/ircsrv/pkg/message"
)

// Sentinel errors for the recoverable conditions spec.md §7 names. They are
// not returned to callers over the wire (those get a reply tag instead);
// they exist for errors.Is in tests and logging.
var (
	ErrNotIdentified  = errors.New("server: connection not identified")
	ErrNameTaken      = errors.New("server: name already taken")
	ErrInvalidName    = errors.New("server: name contains a colon")
	ErrNoSuchRoom     = errors.New("server: no such room")
	ErrNoSuchClient   = errors.New("server: no such client")
	ErrUnknownHandler = errors.New("server: unknown handler tag")
)

// HandlerFunc processes one inbound frame for connection id. It runs with
// the server's mutex already held, so it must mutate state directly (via
// the unexported *Locked helpers) and never block.
type HandlerFunc func(s *Server, id ConnID, f frame.Frame) error

type tableEntry struct {
	fn                HandlerFunc
	requireIdentified bool
}

// Server owns the client registry, the room registry, and the connection
// slab. Zero value is not usable; construct with New.
type Server struct {
	Logger *logging.Logger

	mu        sync.Mutex
	slab      map[ConnID]*conn.Endpoint
	names     map[ConnID]string // set once identified
	clients   map[string]ConnID // name -> ConnID, identified only
	rooms     map[string]*Room
	roomOrder []string // creation order, for list_rooms (spec.md §8 scenario 2)
	dispatch  map[message.HandlerTag]tableEntry
}

// New constructs a Server with the built-in handler table. overrides, if
// non-nil, is merged over the built-ins after construction — the static
// dispatch table with a caller-supplied overlay that spec.md §9 calls for
// in place of the original's reflection-based discovery.
func New(logger *logging.Logger, overrides map[message.HandlerTag]HandlerFunc) *Server {
	s := &Server{
		Logger:  logger,
		slab:    make(map[ConnID]*conn.Endpoint),
		names:   make(map[ConnID]string),
		clients: make(map[string]ConnID),
		rooms:   make(map[string]*Room),
	}
	s.dispatch = s.builtinHandlers()
	for tag, fn := range overrides {
		s.dispatch[tag] = tableEntry{fn: fn, requireIdentified: s.dispatch[tag].requireIdentified}
	}
	return s
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed,
// handling each in its own goroutine. It returns once every in-flight
// connection goroutine has exited.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			if s.Logger != nil {
				s.Logger.Error("accept failed: %v", err)
			}
			continue
		}

		g.Go(func() error {
			s.handleConnection(c)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) handleConnection(c net.Conn) {
	id := NewConnID()

	var ep *conn.Endpoint
	ep = conn.New(c, s.Logger, func(e *conn.Endpoint, f frame.Frame) error {
		return s.onFrame(id, f)
	})

	s.mu.Lock()
	s.slab[id] = ep
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Log(3, "accepted connection %s from %s", id, c.RemoteAddr())
	}

	_ = ep.Serve()

	s.removeConnection(id)
}

func (s *Server) removeConnection(id ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.names[id]; ok {
		if s.clients[name] == id {
			delete(s.clients, name)
		}
		delete(s.names, id)
	}
	delete(s.slab, id)
	// Room membership is left stale on purpose (spec.md §4.4): it is
	// cleaned up lazily the next time a broadcast walks the room.
}

func (s *Server) onFrame(id ConnID, f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.slab[id]
	if !ok {
		return nil
	}

	entry, ok := s.dispatch[message.HandlerTag(f.Handler)]
	if !ok {
		return ep.Send(message.NewNotFound())
	}

	if entry.requireIdentified {
		if _, identified := s.names[id]; !identified {
			return ep.Send(message.NewReqID())
		}
	}

	return entry.fn(s, id, f)
}

// sendLocked writes f to the connection identified by id, skipping
// silently if the connection is no longer in the slab (a stale room
// member) — the tolerate-write-failures-on-stale-members behavior
// spec.md §4.4 requires of broadcast. Callers must hold s.mu.
func (s *Server) sendLocked(id ConnID, f frame.Frame) {
	ep, ok := s.slab[id]
	if !ok {
		return
	}
	_ = ep.Send(f)
}

// nameOfLocked returns the client name bound to id, if identified. Callers
// must hold s.mu.
func (s *Server) nameOfLocked(id ConnID) (string, bool) {
	name, ok := s.names[id]
	return name, ok
}

// RoomNames returns the names of every room currently in the registry, in
// creation order. Exposed for tests and introspection.
func (s *Server) RoomNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.roomOrder))
	copy(names, s.roomOrder)
	return names
}

// ensureRoomLocked returns the room named name, creating it (idempotently,
// and recording its creation order) if it doesn't already exist. Callers
// must hold s.mu.
func (s *Server) ensureRoomLocked(name string) *Room {
	if r, ok := s.rooms[name]; ok {
		return r
	}
	r := NewRoom(name)
	s.rooms[name] = r
	s.roomOrder = append(s.roomOrder, name)
	return r
}

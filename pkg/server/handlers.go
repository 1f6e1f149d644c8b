package server

import (
	"strings"

	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/message"
)

// builtinHandlers builds the static dispatch table (spec.md §4.4, §9): one
// entry per handler tag, each marked with whether the identification gate
// applies to it.
func (s *Server) builtinHandlers() map[message.HandlerTag]tableEntry {
	return map[message.HandlerTag]tableEntry{
		message.Echo:        {fn: handleEcho, requireIdentified: false},
		message.Terminate:   {fn: handleTerminate, requireIdentified: false},
		message.Identify:    {fn: handleIdentify, requireIdentified: false},
		message.CreateRoom:  {fn: handleCreateRoom, requireIdentified: true},
		message.ListRooms:   {fn: handleListRooms, requireIdentified: true},
		message.JoinRoom:    {fn: handleJoinRoom, requireIdentified: true},
		message.LeaveRoom:   {fn: handleLeaveRoom, requireIdentified: true},
		message.RoomMembers: {fn: handleRoomMembers, requireIdentified: true},
		message.MsgRoom:     {fn: handleMsgRoom, requireIdentified: true},
		message.MsgClient:   {fn: handleMsgClient, requireIdentified: true},
	}
}

func handleEcho(s *Server, id ConnID, f frame.Frame) error {
	s.sendLocked(id, f)
	return nil
}

func handleTerminate(s *Server, id ConnID, f frame.Frame) error {
	// Clear the name registry here, under the same lock held for this
	// whole handler invocation, rather than leaving it to removeConnection
	// (which runs later, after the read loop notices the closed socket).
	// Otherwise a concurrent identify for this name could still observe
	// the stale entry and be wrongly rejected as id_taken (spec.md §8
	// invariant 6).
	if name, ok := s.names[id]; ok {
		if s.clients[name] == id {
			delete(s.clients, name)
		}
		delete(s.names, id)
	}

	ep, ok := s.slab[id]
	if ok {
		_ = ep.Close()
	}
	return nil
}

// containsColon reports whether name contains a literal colon, which would
// confuse the client-side broadcast header parser (spec.md §9 open
// question, resolved as "forbid colons in names").
func containsColon(name string) bool {
	return strings.ContainsRune(name, ':')
}

func handleIdentify(s *Server, id ConnID, f frame.Frame) error {
	name := string(f.Payload)

	if containsColon(name) {
		s.sendLocked(id, message.NewIDTaken())
		return nil
	}

	if _, taken := s.clients[name]; taken {
		s.sendLocked(id, message.NewIDTaken())
		return nil
	}

	s.clients[name] = id
	s.names[id] = name
	s.sendLocked(id, message.NewIdentified())
	return nil
}

func handleCreateRoom(s *Server, id ConnID, f frame.Frame) error {
	roomName := string(f.Payload)
	s.ensureRoomLocked(roomName)
	s.sendLocked(id, message.NewRoomCreated())
	return nil
}

func handleListRooms(s *Server, id ConnID, f frame.Frame) error {
	s.sendLocked(id, message.NewRoomList(s.roomOrderSnapshotLocked()))
	return nil
}

// roomOrderSnapshotLocked copies the room creation order. Callers must
// hold s.mu.
func (s *Server) roomOrderSnapshotLocked() []string {
	out := make([]string, len(s.roomOrder))
	copy(out, s.roomOrder)
	return out
}

func handleJoinRoom(s *Server, id ConnID, f frame.Frame) error {
	roomName := string(f.Payload)
	name, ok := s.nameOfLocked(id)
	if !ok {
		return nil // unreachable: gated by requireIdentified
	}

	// join_room implicitly creates a missing room, consistent with
	// msg_room requiring an existing room (spec.md §9 open question,
	// recommended resolution).
	room := s.ensureRoomLocked(roomName)
	room.Join(name, id)

	s.sendLocked(id, message.NewRoomJoined())
	return nil
}

func handleLeaveRoom(s *Server, id ConnID, f frame.Frame) error {
	roomName := string(f.Payload)
	name, ok := s.nameOfLocked(id)
	if !ok {
		return nil
	}

	if room, ok := s.rooms[roomName]; ok {
		room.Leave(name)
	}

	s.sendLocked(id, message.NewRoomLeft())
	return nil
}

func handleRoomMembers(s *Server, id ConnID, f frame.Frame) error {
	roomName := string(f.Payload)

	var members []string
	if room, ok := s.rooms[roomName]; ok {
		members = room.Members()
	}

	s.sendLocked(id, message.NewMemberList(members))
	return nil
}

func handleMsgRoom(s *Server, id ConnID, f frame.Frame) error {
	roomName := string(f.Header)
	body := f.Payload

	senderName, ok := s.nameOfLocked(id)
	if !ok {
		return nil
	}

	room, ok := s.rooms[roomName]
	if !ok {
		s.sendLocked(id, message.NewNoRoom(roomName))
		return nil
	}

	// Broadcast to every current member (including the sender — spec.md
	// §9 open question, recommended resolution) before acking the caller,
	// so members observe the broadcast no later than the caller observes
	// its ack (spec.md §5 ordering guarantee).
	broadcast := message.NewBroadcast(roomName, senderName, string(body))
	for _, memberName := range room.Members() {
		memberID, ok := room.Lookup(memberName)
		if !ok {
			continue
		}
		if _, live := s.slab[memberID]; !live {
			// Stale member: its connection is gone, so drop it from the room.
			room.Leave(memberName)
			continue
		}
		s.sendLocked(memberID, broadcast)
	}

	s.sendLocked(id, message.NewRoomMsgd())
	return nil
}

func handleMsgClient(s *Server, id ConnID, f frame.Frame) error {
	targetName := string(f.Header)
	body := f.Payload

	senderName, ok := s.nameOfLocked(id)
	if !ok {
		return nil
	}

	targetID, ok := s.clients[targetName]
	if !ok {
		s.sendLocked(id, message.NewNoClient(targetName))
		return nil
	}

	// The payload is forwarded verbatim, without re-encoding (spec.md
	// §4.4).
	s.sendLocked(targetID, message.NewClientMsg(senderName, body))
	s.sendLocked(id, message.NewClientMsgd())
	return nil
}

// Package message defines the closed catalogue of handler tags the chat
// protocol speaks, and builds the frame.Frame for each one. It mirrors the
// Message subclasses of the original asyncirc.message module: one
// constructor per verb, each pinning down how the verb populates a frame's
// header and payload.
package message

import (
	"strings"

	"github.com/perbu/ircsrv/pkg/frame"
)

// HandlerTag is a member of the closed enumeration of wire verbs.
type HandlerTag string

// The full handler tag catalogue (spec.md §6). Italicized tags in the spec
// (server-originated) are marked below.
const (
	Echo      HandlerTag = "echo"
	Terminate HandlerTag = "terminate"
	NotFound  HandlerTag = "not_found" // server-originated

	Identify   HandlerTag = "identify"
	Identified HandlerTag = "identified" // server-originated
	IDTaken    HandlerTag = "id_taken"   // server-originated
	ReqID      HandlerTag = "req_id"     // server-originated

	CreateRoom   HandlerTag = "create_room"
	RoomCreated  HandlerTag = "room_created" // server-originated
	ListRooms    HandlerTag = "list_rooms"
	RoomList     HandlerTag = "room_list" // server-originated
	JoinRoom     HandlerTag = "join_room"
	RoomJoined   HandlerTag = "room_joined" // server-originated
	LeaveRoom    HandlerTag = "leave_room"
	RoomLeft     HandlerTag = "room_left" // server-originated
	RoomMembers  HandlerTag = "room_members"
	MemberList   HandlerTag = "member_list" // server-originated

	MsgRoom   HandlerTag = "msg_room"
	RoomMsgd  HandlerTag = "room_msgd" // server-originated
	NoRoom    HandlerTag = "no_room"   // server-originated
	Broadcast HandlerTag = "broadcast" // server-originated

	MsgClient  HandlerTag = "msg_client"
	ClientMsgd HandlerTag = "client_msgd" // server-originated
	NoClient   HandlerTag = "no_client"   // server-originated
	ClientMsg  HandlerTag = "client_msg"  // server-originated
)

// NotFoundPayload is the fixed payload of a not_found reply.
const NotFoundPayload = "Handler Not Found"

// NewEcho builds an echo frame carrying payload as text.
func NewEcho(payload string) frame.Frame {
	return frame.New(string(Echo), nil, []byte(payload))
}

// NewTerminate builds a terminate frame.
func NewTerminate() frame.Frame {
	return frame.New(string(Terminate), nil, nil)
}

// NewNotFound builds the not_found reply sent for an unrecognized handler tag.
func NewNotFound() frame.Frame {
	return frame.New(string(NotFound), nil, []byte(NotFoundPayload))
}

// NewIdentify builds an identify request carrying the desired client name.
func NewIdentify(name string) frame.Frame {
	return frame.New(string(Identify), nil, []byte(name))
}

// NewIdentified builds the identified reply.
func NewIdentified() frame.Frame {
	return frame.New(string(Identified), nil, nil)
}

// NewIDTaken builds the id_taken reply.
func NewIDTaken() frame.Frame {
	return frame.New(string(IDTaken), nil, nil)
}

// NewReqID builds the req_id reply sent to a not-yet-identified connection.
func NewReqID() frame.Frame {
	return frame.New(string(ReqID), nil, nil)
}

// NewCreateRoom builds a create_room request carrying the room name.
func NewCreateRoom(room string) frame.Frame {
	return frame.New(string(CreateRoom), nil, []byte(room))
}

// NewRoomCreated builds the room_created reply.
func NewRoomCreated() frame.Frame {
	return frame.New(string(RoomCreated), nil, nil)
}

// NewListRooms builds a list_rooms request.
func NewListRooms() frame.Frame {
	return frame.New(string(ListRooms), nil, nil)
}

// NewRoomList builds the room_list reply, joining names with a newline in
// the order given.
func NewRoomList(names []string) frame.Frame {
	return frame.New(string(RoomList), nil, []byte(strings.Join(names, "\n")))
}

// NewJoinRoom builds a join_room request carrying the room name.
func NewJoinRoom(room string) frame.Frame {
	return frame.New(string(JoinRoom), nil, []byte(room))
}

// NewRoomJoined builds the room_joined reply.
func NewRoomJoined() frame.Frame {
	return frame.New(string(RoomJoined), nil, nil)
}

// NewLeaveRoom builds a leave_room request carrying the room name.
func NewLeaveRoom(room string) frame.Frame {
	return frame.New(string(LeaveRoom), nil, []byte(room))
}

// NewRoomLeft builds the room_left reply.
func NewRoomLeft() frame.Frame {
	return frame.New(string(RoomLeft), nil, nil)
}

// NewRoomMembers builds a room_members request carrying the room name.
func NewRoomMembers(room string) frame.Frame {
	return frame.New(string(RoomMembers), nil, []byte(room))
}

// NewMemberList builds the member_list reply, joining member names with a
// newline in insertion order.
func NewMemberList(names []string) frame.Frame {
	return frame.New(string(MemberList), nil, []byte(strings.Join(names, "\n")))
}

// NewMsgRoom builds a msg_room request: header is the room name, payload is
// the message body.
func NewMsgRoom(room, body string) frame.Frame {
	return frame.New(string(MsgRoom), []byte(room), []byte(body))
}

// NewRoomMsgd builds the room_msgd reply.
func NewRoomMsgd() frame.Frame {
	return frame.New(string(RoomMsgd), nil, nil)
}

// NewNoRoom builds the no_room reply, carrying the missing room's name as
// payload.
func NewNoRoom(room string) frame.Frame {
	return frame.New(string(NoRoom), nil, []byte(room))
}

// BroadcastHeader joins a room name and sender name into the literal
// "room:sender" header format the broadcast tag uses.
func BroadcastHeader(room, sender string) string {
	return room + ":" + sender
}

// SplitBroadcastHeader splits a broadcast frame's header back into room and
// sender name. If the header has no colon, the whole header is treated as
// the room name and the sender is reported as "Anonymous", mirroring the
// original implementation's fallback.
func SplitBroadcastHeader(header string) (room, sender string) {
	if idx := strings.IndexByte(header, ':'); idx >= 0 {
		return header[:idx], header[idx+1:]
	}
	return header, "Anonymous"
}

// NewBroadcast builds a broadcast frame delivered to room members when one
// member sends msg_room.
func NewBroadcast(room, sender, payload string) frame.Frame {
	return frame.New(string(Broadcast), []byte(BroadcastHeader(room, sender)), []byte(payload))
}

// NewMsgClient builds a msg_client request: header is the target client
// name, payload is the message body.
func NewMsgClient(target, body string) frame.Frame {
	return frame.New(string(MsgClient), []byte(target), []byte(body))
}

// NewClientMsgd builds the client_msgd reply.
func NewClientMsgd() frame.Frame {
	return frame.New(string(ClientMsgd), nil, nil)
}

// NewNoClient builds the no_client reply, carrying the missing target's
// name as payload.
func NewNoClient(target string) frame.Frame {
	return frame.New(string(NoClient), nil, []byte(target))
}

// NewClientMsg builds the client_msg frame relayed to a message's target:
// header is the sender's name, payload is the message body, preserved
// verbatim from the original msg_client payload.
func NewClientMsg(sender string, payload []byte) frame.Frame {
	return frame.New(string(ClientMsg), []byte(sender), payload)
}

// Package client implements the client core: one outbound connection, one
// method per protocol verb, and a per-connection routing table that
// correlates reply frames with the pending call awaiting them. It replaces
// asyncirc.client.Client's future-per-call/reflection-based dispatch with a
// static table of completion slots (spec.md §9), turning the server's
// pushed, asynchronous frame stream into call-and-reply semantics that
// also tolerate mid-call disconnection.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/perbu/ircsrv/pkg/conn"
	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/logging"
	"github.com/perbu/ircsrv/pkg/message"
	gnet "github.com/perbu/ircsrv/pkg/net"
)

// ErrConnectionReset is returned by any call in flight, or issued after,
// a connection loss.
var ErrConnectionReset = errors.New("client: connection reset")

// ErrNotIdentified is returned by any gated call issued before Identify
// has completed.
var ErrNotIdentified = errors.New("client: not identified")

// Result carries the outcome of a call that can fail with a descriptive
// reply rather than a transport error (msg_room / msg_client): Failed marks
// whether the failure tag won the race, and Text then holds that failure
// reply's payload (empty on success).
type Result struct {
	Text   string
	Failed bool
}

// Client owns one outbound connection and exposes one method per protocol
// verb (spec.md §4.6).
type Client struct {
	Logger *logging.Logger

	ep *conn.Endpoint

	mu         sync.Mutex
	routes     map[message.HandlerTag]chan frame.Frame
	name       string
	identified bool
}

// Dial connects to addr and returns a running Client. The caller must call
// Disconnect when done.
func Dial(addr string, logger *logging.Logger) (*Client, error) {
	raw, err := gnet.TCPConnect(addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	c := &Client{
		Logger: logger,
		routes: make(map[message.HandlerTag]chan frame.Frame),
	}
	c.ep = conn.New(raw, logger, c.onFrame)
	go c.ep.Serve()

	return c, nil
}

// Name returns the identified client name, or "" before Identify completes.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Identified reports whether Identify has completed successfully.
func (c *Client) Identified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identified
}

// Disconnected returns a channel closed once the underlying connection is
// gone, for any reason.
func (c *Client) Disconnected() <-chan struct{} {
	return c.ep.Closed()
}

// onFrame routes an inbound frame to whichever slot is currently installed
// for its handler tag. A frame for a tag with nothing installed (an
// unsolicited broadcast, or a reply arriving after its caller gave up) is
// dropped.
func (c *Client) onFrame(_ *conn.Endpoint, f frame.Frame) error {
	c.mu.Lock()
	ch, ok := c.routes[message.HandlerTag(f.Handler)]
	c.mu.Unlock()

	if ok {
		select {
		case ch <- f:
		default:
			// A full one-shot slot means its caller already moved on; never
			// block the read loop over it.
		}
	}
	return nil
}

// AddHandler installs a durable route for tag, delivered on the returned
// channel until RemoveHandler is called — for unsolicited server-originated
// traffic such as broadcast, which has no caller awaiting a specific reply.
func (c *Client) AddHandler(tag message.HandlerTag) <-chan frame.Frame {
	ch := make(chan frame.Frame, 16)
	c.mu.Lock()
	c.routes[tag] = ch
	c.mu.Unlock()
	return ch
}

// RemoveHandler uninstalls the route for tag.
func (c *Client) RemoveHandler(tag message.HandlerTag) {
	c.mu.Lock()
	delete(c.routes, tag)
	c.mu.Unlock()
}

// installSlot registers a one-shot pending-call slot for tag.
func (c *Client) installSlot(tag message.HandlerTag) chan frame.Frame {
	ch := make(chan frame.Frame, 1)
	c.mu.Lock()
	c.routes[tag] = ch
	c.mu.Unlock()
	return ch
}

// uninstallSlot removes tag's route iff it is still ch, so a slower call
// never clobbers a route a later call has since installed.
func (c *Client) uninstallSlot(tag message.HandlerTag, ch chan frame.Frame) {
	c.mu.Lock()
	if c.routes[tag] == ch {
		delete(c.routes, tag)
	}
	c.mu.Unlock()
}

// wait blocks until ch receives a frame or the connection closes, whichever
// is first (spec.md §4.6 step 3: racing the reply against disconnection).
func (c *Client) wait(ctx context.Context, ch chan frame.Frame) (frame.Frame, error) {
	select {
	case f := <-ch:
		return f, nil
	case <-c.ep.Closed():
		return frame.Frame{}, ErrConnectionReset
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (c *Client) send(f frame.Frame) error {
	select {
	case <-c.ep.Closed():
		return ErrConnectionReset
	default:
	}
	if err := c.ep.Send(f); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	return nil
}

// call installs a slot for replyTag, sends f, and waits for the reply or
// disconnection, releasing the slot either way.
func (c *Client) call(ctx context.Context, replyTag message.HandlerTag, f frame.Frame) (frame.Frame, error) {
	ch := c.installSlot(replyTag)
	defer c.uninstallSlot(replyTag, ch)

	if err := c.send(f); err != nil {
		return frame.Frame{}, err
	}
	return c.wait(ctx, ch)
}

func (c *Client) requireIdentified() error {
	if !c.Identified() {
		return ErrNotIdentified
	}
	return nil
}

// Echo sends payload on the echo verb and returns the server's echoed text.
// Like Identify and Disconnect, Echo is not gated by identification.
func (c *Client) Echo(ctx context.Context, payload string) (string, error) {
	reply, err := c.call(ctx, message.Echo, message.NewEcho(payload))
	if err != nil {
		return "", err
	}
	return string(reply.Payload), nil
}

// Identify binds name to this connection. It must succeed before any other
// gated call.
func (c *Client) Identify(ctx context.Context, name string) error {
	ok := c.installSlot(message.Identified)
	taken := c.installSlot(message.IDTaken)
	defer c.uninstallSlot(message.Identified, ok)
	defer c.uninstallSlot(message.IDTaken, taken)

	if err := c.send(message.NewIdentify(name)); err != nil {
		return err
	}

	select {
	case <-ok:
		c.mu.Lock()
		c.name = name
		c.identified = true
		c.mu.Unlock()
		return nil
	case <-taken:
		return fmt.Errorf("client: name %q already taken", name)
	case <-c.ep.Closed():
		return ErrConnectionReset
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRoom idempotently creates a room.
func (c *Client) CreateRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.call(ctx, message.RoomCreated, message.NewCreateRoom(room))
	return err
}

// ListRooms returns the server's room_list payload: room names, newline
// joined, in creation order.
func (c *Client) ListRooms(ctx context.Context) (string, error) {
	if err := c.requireIdentified(); err != nil {
		return "", err
	}
	reply, err := c.call(ctx, message.RoomList, message.NewListRooms())
	if err != nil {
		return "", err
	}
	return string(reply.Payload), nil
}

// JoinRoom joins the named room, creating it first if it doesn't exist.
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.call(ctx, message.RoomJoined, message.NewJoinRoom(room))
	return err
}

// LeaveRoom leaves the named room, if currently a member.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	if err := c.requireIdentified(); err != nil {
		return err
	}
	_, err := c.call(ctx, message.RoomLeft, message.NewLeaveRoom(room))
	return err
}

// RoomMembers returns the room's member_list payload: member names,
// newline joined, in insertion order.
func (c *Client) RoomMembers(ctx context.Context, room string) (string, error) {
	if err := c.requireIdentified(); err != nil {
		return "", err
	}
	reply, err := c.call(ctx, message.MemberList, message.NewRoomMembers(room))
	if err != nil {
		return "", err
	}
	return string(reply.Payload), nil
}

// MsgRoom broadcasts payload to room. Two reply slots race, per spec.md
// §4.6: room_msgd (success) and no_room (failure, Result.Text is the
// missing room's name).
func (c *Client) MsgRoom(ctx context.Context, room, payload string) (Result, error) {
	if err := c.requireIdentified(); err != nil {
		return Result{}, err
	}
	return c.racedCall(ctx, message.RoomMsgd, message.NoRoom, message.NewMsgRoom(room, payload))
}

// MsgClient sends payload to the named client. Two reply slots race:
// client_msgd (success) and no_client (failure, Result.Text is the missing
// target's name).
func (c *Client) MsgClient(ctx context.Context, target, payload string) (Result, error) {
	if err := c.requireIdentified(); err != nil {
		return Result{}, err
	}
	return c.racedCall(ctx, message.ClientMsgd, message.NoClient, message.NewMsgClient(target, payload))
}

// racedCall installs both a success and a failure slot, sends f, and
// resolves with whichever fires first.
func (c *Client) racedCall(ctx context.Context, okTag, failTag message.HandlerTag, f frame.Frame) (Result, error) {
	okCh := c.installSlot(okTag)
	failCh := c.installSlot(failTag)
	defer c.uninstallSlot(okTag, okCh)
	defer c.uninstallSlot(failTag, failCh)

	if err := c.send(f); err != nil {
		return Result{}, err
	}

	select {
	case <-okCh:
		return Result{}, nil
	case reply := <-failCh:
		return Result{Text: string(reply.Payload), Failed: true}, nil
	case <-c.ep.Closed():
		return Result{}, ErrConnectionReset
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Disconnect sends terminate and waits for the stream to close.
func (c *Client) Disconnect(ctx context.Context) error {
	select {
	case <-c.ep.Closed():
		return nil
	default:
	}

	if err := c.send(message.NewTerminate()); err != nil {
		return nil
	}

	select {
	case <-c.ep.Closed():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

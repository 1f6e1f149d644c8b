package server_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/ircsrv/pkg/barrier"
	"github.com/perbu/ircsrv/pkg/conn"
	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/logging"
	"github.com/perbu/ircsrv/pkg/message"
	"github.com/perbu/ircsrv/pkg/server"
)

// rawClient is a minimal hand-rolled endpoint used where the test wants to
// drive the wire protocol directly, rather than through pkg/client.
type rawClient struct {
	ep    *conn.Endpoint
	inbox chan frame.Frame
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	rc := &rawClient{inbox: make(chan frame.Frame, 32)}
	rc.ep = conn.New(raw, logging.NewLogger("raw"), func(_ *conn.Endpoint, f frame.Frame) error {
		rc.inbox <- f
		return nil
	})
	go rc.ep.Serve()
	t.Cleanup(func() { _ = rc.ep.Close() })
	return rc
}

func (rc *rawClient) send(t *testing.T, f frame.Frame) {
	t.Helper()
	require.NoError(t, rc.ep.Send(f))
}

func (rc *rawClient) recv(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case f := <-rc.inbox:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame.Frame{}
	}
}

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(logging.NewLogger("test-srv"), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv, ln.Addr().String()
}

func TestUnidentifiedConnectionIsGated(t *testing.T) {
	_, addr := startServer(t)
	rc := dialRaw(t, addr)

	rc.send(t, message.NewListRooms())
	reply := rc.recv(t)
	assert.Equal(t, string(message.ReqID), reply.Handler)
}

func TestUnknownHandlerRepliesNotFound(t *testing.T) {
	_, addr := startServer(t)
	rc := dialRaw(t, addr)

	rc.send(t, frame.New("does_not_exist", nil, nil))
	reply := rc.recv(t)
	assert.Equal(t, string(message.NotFound), reply.Handler)
	assert.Equal(t, message.NotFoundPayload, string(reply.Payload))
}

func TestAtMostOneConnectionPerName(t *testing.T) {
	_, addr := startServer(t)
	a := dialRaw(t, addr)
	b := dialRaw(t, addr)

	a.send(t, message.NewIdentify("carol"))
	assert.Equal(t, string(message.Identified), a.recv(t).Handler)

	b.send(t, message.NewIdentify("carol"))
	assert.Equal(t, string(message.IDTaken), b.recv(t).Handler)
}

func TestColonInNameRejected(t *testing.T) {
	_, addr := startServer(t)
	rc := dialRaw(t, addr)

	rc.send(t, message.NewIdentify("has:colon"))
	assert.Equal(t, string(message.IDTaken), rc.recv(t).Handler)
}

func TestRoomMembersPreservesJoinOrder(t *testing.T) {
	_, addr := startServer(t)

	names := []string{"delta", "alpha", "charlie"}
	clients := make([]*rawClient, len(names))
	for i, name := range names {
		rc := dialRaw(t, addr)
		rc.send(t, message.NewIdentify(name))
		require.Equal(t, string(message.Identified), rc.recv(t).Handler)
		rc.send(t, message.NewJoinRoom("lobby"))
		require.Equal(t, string(message.RoomJoined), rc.recv(t).Handler)
		clients[i] = rc
	}

	clients[0].send(t, message.NewRoomMembers("lobby"))
	reply := clients[0].recv(t)
	assert.Equal(t, "delta\nalpha\ncharlie", string(reply.Payload))
}

func TestBroadcastFansOutToAllMembersIncludingSender(t *testing.T) {
	srv, addr := startServer(t)
	_ = srv

	alice := dialRaw(t, addr)
	bob := dialRaw(t, addr)

	alice.send(t, message.NewIdentify("alice"))
	require.Equal(t, string(message.Identified), alice.recv(t).Handler)
	bob.send(t, message.NewIdentify("bob"))
	require.Equal(t, string(message.Identified), bob.recv(t).Handler)

	alice.send(t, message.NewJoinRoom("lobby"))
	require.Equal(t, string(message.RoomJoined), alice.recv(t).Handler)
	bob.send(t, message.NewJoinRoom("lobby"))
	require.Equal(t, string(message.RoomJoined), bob.recv(t).Handler)

	alice.send(t, message.NewMsgRoom("lobby", "hi everyone"))

	first := alice.recv(t)
	assert.Equal(t, string(message.Broadcast), first.Handler)
	room, sender := message.SplitBroadcastHeader(string(first.Header))
	assert.Equal(t, "lobby", room)
	assert.Equal(t, "alice", sender)

	ack := alice.recv(t)
	assert.Equal(t, string(message.RoomMsgd), ack.Handler)

	bobMsg := bob.recv(t)
	assert.Equal(t, string(message.Broadcast), bobMsg.Handler)
	assert.Equal(t, "hi everyone", string(bobMsg.Payload))
}

func TestMsgRoomAckOrderedAfterBroadcast(t *testing.T) {
	// spec.md ordering guarantee: members observe the broadcast no later
	// than the sender observes its own ack, since both are sent from
	// within the same locked handler invocation before it returns.
	_, addr := startServer(t)

	alice := dialRaw(t, addr)
	alice.send(t, message.NewIdentify("solo"))
	require.Equal(t, string(message.Identified), alice.recv(t).Handler)
	alice.send(t, message.NewJoinRoom("room1"))
	require.Equal(t, string(message.RoomJoined), alice.recv(t).Handler)

	alice.send(t, message.NewMsgRoom("room1", "ping"))
	assert.Equal(t, string(message.Broadcast), alice.recv(t).Handler)
	assert.Equal(t, string(message.RoomMsgd), alice.recv(t).Handler)
}

func TestMsgClientNoSuchTarget(t *testing.T) {
	_, addr := startServer(t)
	rc := dialRaw(t, addr)
	rc.send(t, message.NewIdentify("lonely"))
	require.Equal(t, string(message.Identified), rc.recv(t).Handler)

	rc.send(t, message.NewMsgClient("nobody", "hello?"))
	reply := rc.recv(t)
	assert.Equal(t, string(message.NoClient), reply.Handler)
	assert.Equal(t, "nobody", string(reply.Payload))
}

func TestStaleRoomMemberSkippedOnBroadcast(t *testing.T) {
	// A member that disconnects without leave_room is pruned lazily: the
	// next broadcast walk silently skips its stale ConnID (spec.md §4.4).
	_, addr := startServer(t)

	alice := dialRaw(t, addr)
	bob := dialRaw(t, addr)

	alice.send(t, message.NewIdentify("alice2"))
	require.Equal(t, string(message.Identified), alice.recv(t).Handler)
	bob.send(t, message.NewIdentify("bob2"))
	require.Equal(t, string(message.Identified), bob.recv(t).Handler)

	alice.send(t, message.NewJoinRoom("r"))
	require.Equal(t, string(message.RoomJoined), alice.recv(t).Handler)
	bob.send(t, message.NewJoinRoom("r"))
	require.Equal(t, string(message.RoomJoined), bob.recv(t).Handler)

	require.NoError(t, bob.ep.Close())
	time.Sleep(50 * time.Millisecond) // let the server notice the close

	alice.send(t, message.NewMsgRoom("r", "still there?"))
	assert.Equal(t, string(message.Broadcast), alice.recv(t).Handler)
	assert.Equal(t, string(message.RoomMsgd), alice.recv(t).Handler)
}

// TestConcurrentIdentifyIsSerialized drives N goroutines, each racing to
// identify under a shared name, synchronized with a barrier so every
// connection attempts identify at the same instant; exactly one succeeds.
func TestConcurrentIdentifyIsSerialized(t *testing.T) {
	_, addr := startServer(t)

	const n = 8
	conns := make([]*rawClient, n)
	for i := range conns {
		conns[i] = dialRaw(t, addr)
	}

	b := barrier.New("identify-race", logging.NewLogger("barrier"))
	require.NoError(t, b.Start(n))

	results := make(chan string, n)
	var wg sync.WaitGroup
	for _, rc := range conns {
		wg.Add(1)
		go func(rc *rawClient) {
			defer wg.Done()
			_ = b.Wait()
			_ = rc.ep.Send(message.NewIdentify("contested"))
			select {
			case f := <-rc.inbox:
				results <- f.Handler
			case <-time.After(2 * time.Second):
				results <- "timeout"
			}
		}(rc)
	}
	wg.Wait()
	close(results)

	successes := 0
	for handler := range results {
		if handler == string(message.Identified) {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

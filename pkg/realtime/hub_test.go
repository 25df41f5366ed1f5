package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
)

func testConn(h *Hub, id string) *Conn {
	return newConn(id, h, nil, zerolog.Nop())
}

func drain(t *testing.T, c *Conn) []Push {
	t.Helper()
	var out []Push
	for {
		select {
		case b := <-c.send:
			var p Push
			require.NoError(t, json.Unmarshal(b, &p))
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestRegisterJoinsGlobal(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := testConn(h, "1")
	h.Register(c)
	assert.Equal(t, []string{GlobalRoom}, h.Rooms(c))
	assert.Equal(t, 1, h.Connections())
}

func TestJoinLeaveMembership(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := testConn(h, "1")
	h.Register(c)

	require.NoError(t, h.Join(c, "SMS;-;+1"))
	require.NoError(t, h.Join(c, "SMS;-;+1"))
	require.NoError(t, h.Join(c, "iMessage;+;chat9"))
	assert.Equal(t, []string{"SMS;-;+1", GlobalRoom, "iMessage;+;chat9"}, h.Rooms(c))

	require.NoError(t, h.Leave(c, "SMS;-;+1"))
	require.NoError(t, h.Leave(c, "never-joined"))
	assert.Equal(t, []string{GlobalRoom, "iMessage;+;chat9"}, h.Rooms(c))

	err := h.Leave(c, GlobalRoom)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(h.Join(c, "")))
}

func TestRemoveDropsEverything(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := testConn(h, "1")
	h.Register(c)
	require.NoError(t, h.Join(c, "room"))

	h.Remove(c)
	h.Remove(c)
	assert.Empty(t, h.Rooms(c))
	assert.Equal(t, 0, h.Connections())
	assert.Equal(t, 0, h.Broadcast("room", "new-message", nil))
	assert.Error(t, h.Join(c, "room"), "closed connections cannot rejoin")
}

func TestBroadcastOnlyReachesRoomMembers(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	a, b := testConn(h, "a"), testConn(h, "b")
	h.Register(a)
	h.Register(b)
	require.NoError(t, h.Join(a, "SMS;-;+1"))

	n := h.Broadcast("SMS;-;+1", "new-message", map[string]string{"guid": "m1"})
	assert.Equal(t, 1, n)
	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "new-message", got[0].Event)
	assert.Empty(t, drain(t, b))

	assert.Equal(t, 2, h.Broadcast(GlobalRoom, "contacts-changed", nil))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := testConn(h, "slow")
	h.Register(c)
	for i := 0; i < sendBuffer; i++ {
		require.Equal(t, 1, h.Broadcast(GlobalRoom, "tick", i))
	}
	assert.Equal(t, 0, h.Broadcast(GlobalRoom, "tick", "overflow"))
	assert.Equal(t, 0, h.Connections())
	select {
	case <-c.done:
	default:
		t.Fatal("slow connection was not closed")
	}
}

func TestConcurrentMembershipChanges(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := testConn(h, "c")
			h.Register(c)
			_ = h.Join(c, "room")
			h.Broadcast("room", "x", nil)
			_ = h.Leave(c, "room")
			h.Remove(c)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Connections())
}

func TestResponderReplyAndPush(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := testConn(h, "1")

	respond := c.responder(Request{ID: "42", Event: "ping"})
	respond(model.Success("pong"))
	respond(model.Success("ignored"))

	var reply Reply
	require.NoError(t, json.Unmarshal(<-c.send, &reply))
	assert.Equal(t, "42", reply.ID)
	assert.Equal(t, "ping", reply.Event)
	assert.Equal(t, "pong", reply.Response.Data)
	assert.Empty(t, c.send, "a responder answers once")

	c.responder(Request{Event: "ping"})(model.Success("pong"))
	var push map[string]any
	require.NoError(t, json.Unmarshal(<-c.send, &push))
	assert.Equal(t, "ping", push["event"])
	assert.NotContains(t, push, "id")
}

func TestCloseAllClosesEveryConnection(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	a := testConn(h, "a")
	b := testConn(h, "b")
	h.Register(a)
	h.Register(b)
	require.NoError(t, h.Join(b, "SMS;-;+1"))

	assert.Equal(t, 2, h.CloseAll())
	assert.Equal(t, 0, h.Connections())
	for _, c := range []*Conn{a, b} {
		select {
		case <-c.done:
		default:
			t.Fatalf("connection %s left open", c.ID)
		}
	}
	assert.Equal(t, 0, h.Broadcast("SMS;-;+1", "new-message", nil))
	assert.Equal(t, 0, h.CloseAll())
}

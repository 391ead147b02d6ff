package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLeaveEdges(t *testing.T) {
	r := NewRegistry()
	phone := NewClient(1, nil)
	laptop := NewClient(1, nil)

	assert.True(t, r.Join(phone), "first handle is the online edge")
	assert.False(t, r.Join(laptop), "second device must not re-announce")
	assert.True(t, r.Online(1))

	assert.False(t, r.Leave(phone), "one handle remains")
	assert.True(t, r.Online(1))
	assert.True(t, r.Leave(laptop), "last handle is the offline edge")
	assert.False(t, r.Online(1))
}

func TestLeaveUnknownHandle(t *testing.T) {
	r := NewRegistry()
	c := NewClient(1, nil)

	assert.False(t, r.Leave(c))

	r.Join(c)
	assert.True(t, r.Leave(c))
	assert.False(t, r.Leave(c), "double leave must not fire a second edge")
}

func TestHandlesFor(t *testing.T) {
	r := NewRegistry()
	a := NewClient(1, nil)
	b := NewClient(1, nil)
	other := NewClient(2, nil)
	r.Join(a)
	r.Join(b)
	r.Join(other)

	handles := r.HandlesFor(1)
	assert.Len(t, handles, 2)
	assert.Empty(t, r.HandlesFor(99))
}

func TestOnlineUsers(t *testing.T) {
	r := NewRegistry()
	r.Join(NewClient(1, nil))
	r.Join(NewClient(2, nil))

	assert.ElementsMatch(t, []int{1, 2}, r.OnlineUsers())
}

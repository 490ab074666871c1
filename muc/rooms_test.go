package muc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinLookupLeave(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Join("Lounge@conference.example.org", "bob"))
	require.NoError(t, reg.Join("dev@conference.example.org/ignored", "bobby"))

	room, ok := reg.Lookup("lounge@conference.example.org")
	require.True(t, ok)
	assert.Equal(t, "bob", room.Nickname)
	assert.Equal(t, "Lounge@conference.example.org", room.JID)

	joined := reg.RoomsJoined()
	require.Len(t, joined, 2)
	assert.Equal(t, "Lounge@conference.example.org", joined[0].JID)
	assert.Equal(t, "dev@conference.example.org", joined[1].JID)

	reg.Leave("lounge@conference.example.org")
	_, ok = reg.Lookup("lounge@conference.example.org")
	assert.False(t, ok)
	reg.Leave("never@conference.example.org")
}

func TestRegistryJoinValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Join("", "bob"))
	assert.Error(t, reg.Join("room@conference.example.org", " "))
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmppchat/models"
	"xmppchat/stanza"
	"xmppchat/storage"
)

func TestSendDisplayedForJIDSkipsAlreadyDisplayed(t *testing.T) {
	h := newTestHarness(t, defaultSettings())
	require.NoError(t, h.store.AddMessage(models.Message{
		ID:              "g7",
		ConversationJID: "room@muc.example.net",
		SenderResource:  "carol",
		Body:            "hi all",
		Direction:       models.DirectionIncoming,
		IsGroup:         true,
	}))

	sent, err := h.handler.Markers().SendDisplayedForJID("room@muc.example.net")
	require.NoError(t, err)
	assert.True(t, sent)

	messages := h.transport.all()
	require.Len(t, messages, 1)
	assert.Equal(t, stanza.TypeGroupChat, messages[0].Type)
	assert.Equal(t, "g7", messages[0].Displayed.ID)

	sent, err = h.handler.Markers().SendDisplayedForJID("room@muc.example.net")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, h.transport.all(), 1)
}

func TestSendDisplayedForJIDWithoutHistory(t *testing.T) {
	h := newTestHarness(t, defaultSettings())

	sent, err := h.handler.Markers().SendDisplayedForJID("nobody@example.net")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, h.transport.all())
}

func TestSendDisplayedForJIDTransportError(t *testing.T) {
	h := newTestHarness(t, defaultSettings())
	require.NoError(t, h.store.AddMessage(models.Message{
		ID:              "m1",
		ConversationJID: "bob@example.net",
		Body:            "hi",
		Direction:       models.DirectionIncoming,
	}))
	h.transport.err = errTransportDown

	sent, err := h.handler.Markers().SendDisplayedForJID("bob@example.net")
	require.ErrorIs(t, err, errTransportDown)
	assert.False(t, sent)
	assert.Empty(t, h.store.statuses, "status only changes once the marker left")

	latest, err := h.store.LatestIncoming("bob@example.net")
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryStatusReceived, latest.DeliveryStatus)
}

func TestSendReceiptValidation(t *testing.T) {
	h := newTestHarness(t, defaultSettings())

	assert.Error(t, h.handler.Markers().SendReceipt("", "id"))
	assert.Error(t, h.handler.Markers().SendReceipt("bob@example.net/desktop", ""))
	assert.Empty(t, h.transport.all())
}

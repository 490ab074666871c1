package stanza

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `<stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams">
<presence from="carol@example.org/phone"/>
<message type="chat" from="alice@example.org/laptop" to="bob@example.net" id="m-1">
  <body>https://files.example.org/cat.jpg</body>
  <x xmlns="jabber:x:oob"><url>https://files.example.org/cat.jpg</url></x>
  <origin-id xmlns="urn:xmpp:sid:0" id="origin-1"/>
  <request xmlns="urn:xmpp:receipts"/>
  <markable xmlns="urn:xmpp:chat-markers:0"/>
</message>
<message type="groupchat" from="room@muc.example.org/carol" to="bob@example.net">
  <body>old news</body>
  <delay xmlns="urn:xmpp:delay" stamp="2024-01-02T03:04:05.123Z"/>
  <stanza-id xmlns="urn:xmpp:sid:0" id="archive-7" by="room@muc.example.org"/>
</message>
</stream:stream>`

func TestDecoderReadsMessagesAndSkipsOtherElements(t *testing.T) {
	dec := NewDecoder(strings.NewReader(sampleStream))

	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeChat, first.Type)
	assert.Equal(t, "m-1", first.ID)
	assert.Equal(t, "https://files.example.org/cat.jpg", first.OutOfBandURL())
	assert.Equal(t, "origin-1", first.AlternateID())
	assert.True(t, first.ReceiptRequested())
	assert.True(t, first.IsMarkable())
	_, stamped := first.Stamp()
	assert.False(t, stamped)

	second, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeGroupChat, second.Type)
	assert.Equal(t, "archive-7", second.AlternateID())
	stamp, ok := second.Stamp()
	require.True(t, ok)
	assert.Equal(t, 2024, stamp.Year())

	_, err = dec.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestStampRejectsGarbageAndAcceptsLegacyFormat(t *testing.T) {
	msg := &Message{Delay: &Delay{Stamp: "yesterday"}}
	_, ok := msg.Stamp()
	assert.False(t, ok)

	msg = &Message{LegacyDelay: &Delay{Stamp: "20020910T23:08:25"}}
	stamp, ok := msg.Stamp()
	require.True(t, ok)
	assert.Equal(t, 2002, stamp.Year())
}

func TestEncryptionMethodVariants(t *testing.T) {
	assert.Equal(t, EncryptionNone, (&Message{}).EncryptionMethod())
	assert.Equal(t, EncryptionOMEMO, (&Message{OMEMO: &OMEMOEncrypted{}}).EncryptionMethod())

	msg := &Message{}
	msg.SetEncryptionMethod(NSOMEMO, "OMEMO")
	assert.Equal(t, EncryptionOMEMO, msg.EncryptionMethod())

	msg.SetEncryptionMethod("urn:xmpp:openpgp:0", "OpenPGP for XMPP")
	assert.Equal(t, EncryptionOther, msg.EncryptionMethod())
}

func TestEncodeRoundTripKeepsExtensions(t *testing.T) {
	msg := &Message{Type: TypeChat, To: "bob@example.net", ID: "out-1", Body: "aesgcm://h/f.jpg#abcd"}
	msg.SetReceiptRequested(true)
	msg.SetMarkable(true)
	msg.SetOutOfBandURL(msg.Body)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))
	assert.Contains(t, buf.String(), `xmlns="jabber:x:oob"`)

	decoded, err := Unmarshal(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "aesgcm://h/f.jpg#abcd", decoded.OutOfBandURL())
	assert.True(t, decoded.ReceiptRequested())
	assert.True(t, decoded.IsMarkable())
	assert.Equal(t, EncryptionNone, decoded.EncryptionMethod())
}

func TestJIDHelpers(t *testing.T) {
	assert.Equal(t, "alice@example.org", Bare("Alice@example.org/laptop"))
	assert.Equal(t, "laptop", Resource("alice@example.org/laptop"))
	assert.Equal(t, "", Resource("alice@example.org"))
	assert.True(t, BareEqual("Alice@example.org/a", "alice@example.org/b"))
	assert.False(t, BareEqual("alice@example.org", "bob@example.org"))
	assert.Equal(t, "alice@example.org", Bare("Alice@Example.ORG/laptop"))
	assert.True(t, BareEqual("alice@EXAMPLE.org", "alice@example.org/phone"))
}

func TestJIDHelpersNormalizeUnicode(t *testing.T) {
	// Fullwidth letters fold to their ASCII forms under PRECIS; EqualFold does not.
	assert.True(t, BareEqual("\uff21\uff4c\uff49\uff43\uff45@example.org", "alice@example.org"))
	assert.True(t, BareEqual("\u00d6mer@example.org/x", "\u00f6mer@example.org"))
}

func TestJIDHelpersRejectInvalid(t *testing.T) {
	assert.Equal(t, "", Bare(""))
	assert.Equal(t, "", Bare("@example.org"))
	assert.False(t, BareEqual("", ""))
}

const sampleCarbon = `<message xmlns="jabber:client" from="alice@example.org" to="alice@example.org/phone" type="chat">
  <sent xmlns="urn:xmpp:carbons:2">
    <forwarded xmlns="urn:xmpp:forward:0">
      <message xmlns="jabber:client" from="alice@example.org/laptop" to="bob@example.net/desktop" type="chat" id="c-1">
        <body>sent from the laptop</body>
        <request xmlns="urn:xmpp:receipts"/>
      </message>
    </forwarded>
  </sent>
</message>`

func TestDecoderUnwrapsCarbon(t *testing.T) {
	outer, err := NewDecoder(strings.NewReader(sampleCarbon)).Next()
	require.NoError(t, err)
	assert.Empty(t, outer.Body)
	assert.Nil(t, outer.Received, "carbon <received> must not be read as a delivery receipt")

	inner, sent, ok := outer.Carbon()
	require.True(t, ok)
	assert.True(t, sent)
	assert.Equal(t, "c-1", inner.ID)
	assert.Equal(t, "alice@example.org/laptop", inner.From)
	assert.Equal(t, "sent from the laptop", inner.Body)
	assert.True(t, inner.ReceiptRequested())

	plain := &Message{Body: "hi"}
	_, _, ok = plain.Carbon()
	assert.False(t, ok)
}

func TestDecoderReadsReceivedCarbon(t *testing.T) {
	raw := strings.NewReplacer("<sent ", "<received ", "</sent>", "</received>").Replace(sampleCarbon)
	outer, err := Unmarshal([]byte(raw))
	require.NoError(t, err)

	inner, sent, ok := outer.Carbon()
	require.True(t, ok)
	assert.False(t, sent)
	assert.Equal(t, "c-1", inner.ID)
	assert.Nil(t, outer.Received)
}

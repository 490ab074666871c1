package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	TypeChat      = "chat"
	TypeGroupChat = "groupchat"
	TypeNormal    = "normal"
	TypeHeadline  = "headline"
	TypeError     = "error"
)

const (
	NSDelay        = "urn:xmpp:delay"
	NSLegacyDelay  = "jabber:x:delay"
	NSStanzaID     = "urn:xmpp:sid:0"
	NSOOB          = "jabber:x:oob"
	NSEME          = "urn:xmpp:eme:0"
	NSOMEMO        = "eu.siacs.conversations.axolotl"
	NSReceipts     = "urn:xmpp:receipts"
	NSChatMarkers  = "urn:xmpp:chat-markers:0"
	NSCarbons      = "urn:xmpp:carbons:2"
	NSForward      = "urn:xmpp:forward:0"
	legacyDelayFmt = "20060102T15:04:05"
)

var (
	// ErrNotMessage indicates the decoded element is not a message stanza.
	ErrNotMessage = errors.New("stanza: element is not a message")
)

// Encryption is the tagged variant of a stanza's end-to-end encryption metadata.
type Encryption int

const (
	EncryptionNone Encryption = iota
	EncryptionOMEMO
	// EncryptionOther covers any XEP-0380 method other than OMEMO.
	EncryptionOther
)

// Delay is a XEP-0203 (or legacy XEP-0091) delayed delivery stamp.
type Delay struct {
	From  string `xml:"from,attr,omitempty"`
	Stamp string `xml:"stamp,attr"`
}

// StanzaID is a XEP-0359 origin-id or stanza-id.
type StanzaID struct {
	ID string `xml:"id,attr"`
	By string `xml:"by,attr,omitempty"`
}

// OOB is a XEP-0066 out-of-band data annotation.
type OOB struct {
	URL  string `xml:"url"`
	Desc string `xml:"desc,omitempty"`
}

// EME is a XEP-0380 explicit message encryption hint.
type EME struct {
	Namespace string `xml:"namespace,attr"`
	Name      string `xml:"name,attr,omitempty"`
}

// OMEMOEncrypted marks the presence of an OMEMO payload. Its content is opaque here.
type OMEMOEncrypted struct {
	Inner []byte `xml:",innerxml"`
}

// ReceiptRequest is a XEP-0184 delivery receipt request.
type ReceiptRequest struct{}

// Receipt acknowledges delivery of the message with ID.
type Receipt struct {
	ID string `xml:"id,attr"`
}

// Markable flags a message as eligible for XEP-0333 chat markers.
type Markable struct{}

// Marker is a XEP-0333 chat marker referencing message ID.
type Marker struct {
	ID string `xml:"id,attr"`
}

// Forwarded is a XEP-0297 forwarded message.
type Forwarded struct {
	Delay   *Delay   `xml:"urn:xmpp:delay delay,omitempty"`
	Message *Message `xml:"message"`
}

// Carbon is a XEP-0280 sent or received carbon copy.
type Carbon struct {
	Forwarded Forwarded `xml:"urn:xmpp:forward:0 forwarded"`
}

// Message is the subset of a <message/> stanza the pipeline works with.
type Message struct {
	XMLName     xml.Name        `xml:"message"`
	Type        string          `xml:"type,attr,omitempty"`
	From        string          `xml:"from,attr,omitempty"`
	To          string          `xml:"to,attr,omitempty"`
	ID          string          `xml:"id,attr,omitempty"`
	Body        string          `xml:"body,omitempty"`
	Delay       *Delay          `xml:"urn:xmpp:delay delay,omitempty"`
	LegacyDelay *Delay          `xml:"jabber:x:delay x,omitempty"`
	OriginID    *StanzaID       `xml:"urn:xmpp:sid:0 origin-id,omitempty"`
	StanzaIDs   []StanzaID      `xml:"urn:xmpp:sid:0 stanza-id,omitempty"`
	OOB         *OOB            `xml:"jabber:x:oob x,omitempty"`
	EME         *EME            `xml:"urn:xmpp:eme:0 encryption,omitempty"`
	OMEMO       *OMEMOEncrypted `xml:"eu.siacs.conversations.axolotl encrypted,omitempty"`
	Request     *ReceiptRequest `xml:"urn:xmpp:receipts request,omitempty"`
	Received    *Receipt        `xml:"urn:xmpp:receipts received,omitempty"`
	Markable    *Markable       `xml:"urn:xmpp:chat-markers:0 markable,omitempty"`
	Displayed   *Marker         `xml:"urn:xmpp:chat-markers:0 displayed,omitempty"`

	CarbonSent     *Carbon `xml:"urn:xmpp:carbons:2 sent,omitempty"`
	CarbonReceived *Carbon `xml:"urn:xmpp:carbons:2 received,omitempty"`
}

// Stamp returns the delayed delivery timestamp and whether it is present and valid.
func (m *Message) Stamp() (time.Time, bool) {
	if m.Delay != nil {
		stamp, err := time.Parse(time.RFC3339, strings.TrimSpace(m.Delay.Stamp))
		if err == nil {
			return stamp, true
		}
	}
	if m.LegacyDelay != nil {
		stamp, err := time.Parse(legacyDelayFmt, strings.TrimSpace(m.LegacyDelay.Stamp))
		if err == nil {
			return stamp.UTC(), true
		}
	}
	return time.Time{}, false
}

// Carbon returns the message wrapped in a XEP-0280 carbon and whether it was
// a sent carbon. ok is false when m carries no forwarded message.
func (m *Message) Carbon() (inner *Message, sent bool, ok bool) {
	switch {
	case m.CarbonSent != nil && m.CarbonSent.Forwarded.Message != nil:
		return m.CarbonSent.Forwarded.Message, true, true
	case m.CarbonReceived != nil && m.CarbonReceived.Forwarded.Message != nil:
		return m.CarbonReceived.Forwarded.Message, false, true
	default:
		return nil, false, false
	}
}

// AlternateID returns the first XEP-0359 id carried by the stanza: origin-id, then stanza-id.
func (m *Message) AlternateID() string {
	if m.OriginID != nil && m.OriginID.ID != "" {
		return m.OriginID.ID
	}
	for _, sid := range m.StanzaIDs {
		if sid.ID != "" {
			return sid.ID
		}
	}
	return ""
}

// OutOfBandURL returns the XEP-0066 URL, if any.
func (m *Message) OutOfBandURL() string {
	if m.OOB == nil {
		return ""
	}
	return strings.TrimSpace(m.OOB.URL)
}

// SetOutOfBandURL annotates the message with a XEP-0066 URL.
func (m *Message) SetOutOfBandURL(url string) {
	m.OOB = &OOB{URL: url}
}

// EncryptionMethod reports the encryption variant declared by the stanza.
func (m *Message) EncryptionMethod() Encryption {
	if m.OMEMO != nil {
		return EncryptionOMEMO
	}
	if m.EME == nil || m.EME.Namespace == "" {
		return EncryptionNone
	}
	if m.EME.Namespace == NSOMEMO {
		return EncryptionOMEMO
	}
	return EncryptionOther
}

// SetEncryptionMethod declares the XEP-0380 encryption namespace for the outgoing stanza.
func (m *Message) SetEncryptionMethod(namespace, name string) {
	m.EME = &EME{Namespace: namespace, Name: name}
}

// ReceiptRequested reports whether the sender asked for a XEP-0184 receipt.
func (m *Message) ReceiptRequested() bool {
	return m.Request != nil
}

// SetReceiptRequested toggles the XEP-0184 request element.
func (m *Message) SetReceiptRequested(requested bool) {
	if requested {
		m.Request = &ReceiptRequest{}
		return
	}
	m.Request = nil
}

// IsMarkable reports whether the message carries a XEP-0333 markable element.
func (m *Message) IsMarkable() bool {
	return m.Markable != nil
}

// SetMarkable toggles the XEP-0333 markable element.
func (m *Message) SetMarkable(markable bool) {
	if markable {
		m.Markable = &Markable{}
		return
	}
	m.Markable = nil
}

// Encode writes one message stanza as XML.
func Encode(w io.Writer, message *Message) error {
	if err := xml.NewEncoder(w).Encode(message); err != nil {
		return fmt.Errorf("encode message stanza: %w", err)
	}
	return nil
}

// Decoder reads message stanzas from a stream of XML, skipping any other elements.
type Decoder struct {
	dec *xml.Decoder
}

// NewDecoder wraps r in a stanza decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: xml.NewDecoder(r)}
}

// Next returns the next message stanza. It returns io.EOF at end of input.
func (d *Decoder) Next() (*Message, error) {
	for {
		token, err := d.dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "message" {
			// <stream:stream> and similar wrappers: descend into them.
			if start.Name.Local == "stream" {
				continue
			}
			if err := d.dec.Skip(); err != nil {
				return nil, fmt.Errorf("skip <%s>: %w", start.Name.Local, err)
			}
			continue
		}

		var message Message
		if err := d.dec.DecodeElement(&message, &start); err != nil {
			return nil, fmt.Errorf("decode message stanza: %w", err)
		}
		return &message, nil
	}
}

// Unmarshal decodes exactly one message stanza.
func Unmarshal(raw []byte) (*Message, error) {
	var message Message
	if err := xml.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf("unmarshal message stanza: %w", err)
	}
	if message.XMLName.Local != "message" {
		return nil, ErrNotMessage
	}
	return &message, nil
}

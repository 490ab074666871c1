package main

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"xmppchat/stanza"
)

// streamTransport writes outbound stanzas to a stream, one per line. The
// connection that would carry them, and the OMEMO session layer behind
// SendSensitive, live outside this program.
type streamTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func newStreamTransport(w io.Writer) *streamTransport {
	return &streamTransport{w: w}
}

func (t *streamTransport) Send(msg *stanza.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := stanza.Encode(t.w, msg); err != nil {
		return err
	}
	_, err := io.WriteString(t.w, "\n")
	return err
}

func (t *streamTransport) SendSensitive(msg *stanza.Message) error {
	logrus.WithFields(logrus.Fields{
		"function": "SendSensitive",
		"to":       msg.To,
		"id":       msg.ID,
	}).Debug("Handing stanza to the encryption layer")
	return t.Send(msg)
}

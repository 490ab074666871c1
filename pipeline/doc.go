// Package pipeline turns inbound message stanzas into persisted history and
// composes outbound stanzas.
//
// Inbound stanzas are classified (self carbon, group history replay),
// identified, checked for attachments and security metadata, persisted once
// and may trigger an attachment download and a displayed marker. Outbound
// messages get a fresh id, a receipt request and markable flag, the
// encryption or plain path, a history record and are handed to the
// transport.
package pipeline

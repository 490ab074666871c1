package stanza

import (
	"strings"

	"mellium.im/xmpp/jid"
)

// parseJID parses s and folds the domainpart to lower case, since domain
// names compare case-insensitively.
func parseJID(s string) (jid.JID, bool) {
	j, err := jid.Parse(strings.TrimSpace(s))
	if err != nil {
		return jid.JID{}, false
	}
	j, err = jid.New(j.Localpart(), strings.ToLower(j.Domainpart()), j.Resourcepart())
	if err != nil {
		return jid.JID{}, false
	}
	return j, true
}

// Bare returns the normalized bare JID, or "" when s is not a valid JID.
func Bare(s string) string {
	j, ok := parseJID(s)
	if !ok {
		return ""
	}
	return j.Bare().String()
}

// Resource returns the resource part of a JID, or "" for bare or invalid JIDs.
func Resource(s string) string {
	j, ok := parseJID(s)
	if !ok {
		return ""
	}
	return j.Resourcepart()
}

// BareEqual reports whether two JIDs have the same bare JID after PRECIS
// normalization. Invalid JIDs never match.
func BareEqual(a, b string) bool {
	ja, ok := parseJID(a)
	if !ok {
		return false
	}
	jb, ok := parseJID(b)
	if !ok {
		return false
	}
	return ja.Bare().Equal(jb.Bare())
}

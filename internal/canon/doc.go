// Package canon provides the canonical text forms swipematch relies on for
// identity and audit.
//
// Identifiers (room, item and user ids) are compared after trimming and NFC
// normalisation, so visually identical ids typed on different keyboards land
// on the same vote key.
//
// Payloads published to subscribers and golden traces use RFC 8785 style
// canonical JSON: sorted keys (UTF-16 code unit order), no insignificant
// whitespace, no HTML escaping, NFC strings, no floats and no null.
package canon

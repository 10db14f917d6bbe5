// Package canonjson implements the closed JSON value model used for intent
// canonicalization.
//
// Values are decoded strictly: duplicate object keys are an error, every key
// and string is NFC normalized on the way in, and numbers keep their literal
// text so no value ever passes through binary floating point.
//
// MarshalCanonical produces RFC 8785 canonical JSON:
//   - object keys sorted by UTF-16 code units at every depth
//   - no insignificant whitespace
//   - no HTML escaping, U+2028 and U+2029 emitted literally
//   - integers only; non-integer numbers are rejected
package canonjson

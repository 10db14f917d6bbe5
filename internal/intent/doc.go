// Package intent canonicalizes DeltaNEAR derivatives intents and derives
// their content hash.
//
// Canonicalize is a pure function from untrusted JSON to the single normalized
// Intent. The canonical bytes (RFC 8785 via canonjson) are hashed with plain
// SHA-256 to produce the Hash that identifies the intent everywhere else.
//
// Every failure is a *Rejection carrying a tagged Reason and the offending
// field path, so callers assert on the reason kind rather than message text.
package intent

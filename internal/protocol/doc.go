// Package protocol defines the duplex solver wire protocol.
//
// Every frame is an Envelope {"type": ..., "payload": {...}}. Solver-sent and
// core-sent messages are two closed sets of types, each behind a sealed
// interface, and decoding is an exhaustive switch: an unknown type is an
// error, never silently ignored.
package protocol

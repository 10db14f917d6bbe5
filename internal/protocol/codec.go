package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownType is wrapped by DecodeError for unrecognized discriminators.
var ErrUnknownType = errors.New("unknown message type")

// DecodeError reports a frame that could not be decoded.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeSolverMessage decodes a solver-sent frame.
func DecodeSolverMessage(data []byte) (SolverMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeRegister:
		return solverAs[Register](env)
	case TypeHeartbeat:
		return solverAs[Heartbeat](env)
	case TypeQuote:
		return solverAs[Quote](env)
	case TypeExecutionResult:
		return solverAs[ExecutionResult](env)
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}
}

// DecodeServerMessage decodes a core-sent frame. Solver clients use it.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeRegistered:
		return serverAs[Registered](env)
	case TypeQuoteRequest:
		return serverAs[QuoteRequest](env)
	case TypeAward:
		return serverAs[Award](env)
	case TypeExecute:
		return serverAs[Execute](env)
	case TypeError:
		return serverAs[Error](env)
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}
}

// Encode frames a message of either direction.
func Encode(m interface{ Type() MessageType }) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type(), err)
	}
	return json.Marshal(Envelope{Type: m.Type(), Payload: payload})
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return env, &DecodeError{Err: fmt.Errorf("malformed envelope: %w", err)}
	}
	if env.Type == "" {
		return env, &DecodeError{Err: errors.New("envelope missing type")}
	}
	return env, nil
}

func solverAs[T SolverMessage](env Envelope) (SolverMessage, error) {
	m, err := decodeAs[T](env)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func serverAs[T ServerMessage](env Envelope) (ServerMessage, error) {
	m, err := decodeAs[T](env)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// decodeAs strictly decodes the payload into T. An absent payload decodes
// as the zero value.
func decodeAs[T any](env Envelope) (T, error) {
	var m T
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return m, &DecodeError{Type: env.Type, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return m, &DecodeError{Type: env.Type, Err: errors.New("trailing data after payload")}
	}
	return m, nil
}

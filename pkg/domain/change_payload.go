package domain

import "encoding/json"

// ChangePayload carries the JSON form of an entity before or after a change.
// The zero value is "undefined"; NewChangePayload(nil) is defined but empty.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload copies raw into a defined payload.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	return ChangePayload{defined: true, raw: append(json.RawMessage(nil), raw...)}
}

// PayloadOf marshals value into a payload.
func PayloadOf[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return ChangePayload{defined: true, raw: raw}, nil
}

// MustPayloadOf is PayloadOf for entity structs that always marshal.
func MustPayloadOf[T any](value T) ChangePayload {
	p, err := PayloadOf(value)
	if err != nil {
		panic(err)
	}
	return p
}

// Defined reports whether the payload has been set.
func (p ChangePayload) Defined() bool { return p.defined }

// IsEmpty reports whether the payload holds no bytes.
func (p ChangePayload) IsEmpty() bool { return len(p.raw) == 0 }

// Raw returns a copy of the JSON bytes, or nil when empty.
func (p ChangePayload) Raw() json.RawMessage {
	if len(p.raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), p.raw...)
}

// DecodePayload unmarshals p into T. ok is false for undefined, empty or
// malformed payloads.
func DecodePayload[T any](p ChangePayload) (value T, ok bool) {
	if !p.defined || len(p.raw) == 0 {
		return value, false
	}
	if err := json.Unmarshal(p.raw, &value); err != nil {
		return value, false
	}
	return value, true
}

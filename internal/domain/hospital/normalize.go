package hospital

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope keys the backend uses when it wraps a list or a single record.
const (
	keyDoctors      = "doctors"
	keyPatients     = "patients"
	keyAppointments = "appointments"
	keyPatient      = "patient"
	keyDoctor       = "doctor"
	keyAppointment  = "appointment"
)

var errEmptyBody = errors.New("empty response body")

// listElements extracts the JSON array from a list response. A bare array is
// used as is; an object contributes the array under key. Anything else,
// including an object without that key or with a non-array value under it,
// is an empty list. Only malformed JSON is an error.
func listElements(body []byte, key string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("decode %s list: invalid JSON", key)
	}
	switch trimmed[0] {
	case '[':
		return trimmed, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", key, err)
		}
		inner := bytes.TrimSpace(envelope[key])
		if len(inner) > 0 && inner[0] == '[' {
			return inner, nil
		}
	}
	return nil, nil
}

// DecodeList decodes a list response that may be a bare array or an object
// wrapping the array under key. The result is never nil.
func DecodeList[T any](body []byte, key string) ([]T, error) {
	raw, err := listElements(body, key)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// DecodeOne decodes a single-record response, which the backend returns
// either bare or wrapped as {key: {...}}.
func DecodeOne[T any](body []byte, key string) (T, error) {
	var zero T
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return zero, errEmptyBody
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	if inner := bytes.TrimSpace(envelope[key]); len(inner) > 0 && inner[0] == '{' {
		trimmed = inner
	}
	var out T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

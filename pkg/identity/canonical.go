package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalisationError is returned when a payload cannot be rendered
// into the deterministic byte form signatures are computed over
// (cyclic structures, unsupported types) — spec §4.2, §7.
type CanonicalisationError struct {
	Reason string
}

func (e *CanonicalisationError) Error() string {
	return "canonicalisation error: " + e.Reason
}

// SignedSubject is the exact {type, payload, metadata subset} triple
// that signatures are computed over, per spec §4.2/§6. The metadata
// subset is precisely {id, sender, timestamp, causationId,
// correlationId}; integrity and accept-policy fields are excluded.
type SignedSubject struct {
	Type     string         `json:"type"`
	Payload  any            `json:"payload"`
	Metadata SignedMetadata `json:"metadata"`
}

// SignedMetadata is the metadata subset included in the canonical
// encoding.
type SignedMetadata struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Timestamp     int64  `json:"timestamp"`
	CausationID   string `json:"causationId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// CanonicalBytes renders v into the canonical byte encoding: object
// keys sorted lexicographically and recursively, array order
// preserved, cycles rejected. The result is deterministic across Go
// processes and (by construction, since it only uses JSON primitives)
// across any other language implementation that follows the same
// recursive-key-sort rule.
func CanonicalBytes(v any) ([]byte, error) {
	// Round-trip through encoding/json first to normalise v (structs,
	// pointers, etc.) into plain map[string]any/[]any/scalar form that
	// the recursive canonicalizer can walk uniformly.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &CanonicalisationError{Reason: err.Error()}
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, &CanonicalisationError{Reason: err.Error()}
	}

	visited := make(map[uintptr]bool)
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic, visited, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maxCanonicalDepth guards against pathological (though acyclic)
// structures masquerading as cycles; legitimate event payloads never
// approach this depth.
const maxCanonicalDepth = 1000

func writeCanonical(buf *bytes.Buffer, v any, visited map[uintptr]bool, depth int) error {
	if depth > maxCanonicalDepth {
		return &CanonicalisationError{Reason: "maximum nesting depth exceeded (possible cycle)"}
	}
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return &CanonicalisationError{Reason: err.Error()}
		}
		buf.Write(b)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item, visited, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return &CanonicalisationError{Reason: err.Error()}
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k], visited, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return &CanonicalisationError{Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// SignBytes builds the canonical byte form for the signed subject of
// an event shell, ready to pass to Sign/Verify.
func SignBytes(eventType string, payload any, meta SignedMetadata) ([]byte, error) {
	return CanonicalBytes(SignedSubject{Type: eventType, Payload: payload, Metadata: meta})
}

package reclaim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// The provider delivers callbacks in several shapes: a URL-encoded JSON
// string, an array of proofs, a {proofs: [...]} envelope, a single proof
// object, or a session-status ping. classifyCallback maps the raw body
// onto a tagged union before any processing happens.

type callbackKind int

const (
	kindSessionPing callbackKind = iota
	kindProofBatch
)

type sessionPing struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type callback struct {
	kind   callbackKind
	ping   *sessionPing
	proofs []json.RawMessage
}

type proofsEnvelope struct {
	Proofs []json.RawMessage `json:"proofs"`
}

func classifyCallback(body []byte) (*callback, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty callback body")
	}

	switch body[0] {
	case '"':
		// JSON-кодированная строка: внутри URL-encoded JSON
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("malformed string body: %w", err)
		}
		decoded, err := url.QueryUnescape(inner)
		if err != nil {
			return nil, fmt.Errorf("failed to decode string body: %w", err)
		}
		return classifyCallback([]byte(decoded))

	case '[':
		var proofs []json.RawMessage
		if err := json.Unmarshal(body, &proofs); err != nil {
			return nil, fmt.Errorf("malformed proof array: %w", err)
		}
		return &callback{kind: kindProofBatch, proofs: proofs}, nil

	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, fmt.Errorf("malformed object body: %w", err)
		}

		if _, ok := probe["proofs"]; ok {
			var env proofsEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, fmt.Errorf("malformed proofs envelope: %w", err)
			}
			return &callback{kind: kindProofBatch, proofs: env.Proofs}, nil
		}

		_, hasSession := probe["sessionId"]
		_, hasIdentifier := probe["identifier"]
		if hasSession && !hasIdentifier {
			var ping sessionPing
			if err := json.Unmarshal(body, &ping); err != nil {
				return nil, fmt.Errorf("malformed session ping: %w", err)
			}
			return &callback{kind: kindSessionPing, ping: &ping}, nil
		}

		// Иначе весь объект трактуем как одиночный proof
		return &callback{kind: kindProofBatch, proofs: []json.RawMessage{body}}, nil
	}

	return nil, fmt.Errorf("invalid request body format")
}

// classifyRawOrEscaped also accepts bodies where the JSON document
// arrives percent-escaped without surrounding quotes, as some provider
// deliveries do.
func classifyRawOrEscaped(body []byte) (*callback, error) {
	cb, err := classifyCallback(body)
	if err == nil {
		return cb, nil
	}

	decoded, decErr := url.QueryUnescape(string(body))
	if decErr != nil || decoded == string(body) {
		return nil, err
	}
	return classifyCallback([]byte(decoded))
}

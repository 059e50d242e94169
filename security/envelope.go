package security

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var envelopePrefix = []byte("botfactory.secret.v1:")

const envelopeAlgorithmKeyRing = "keyring+aes-256-gcm"

// envelope is what every ciphertext stored by the factory looks like:
// envelopePrefix followed by this struct as JSON. Sealed is base64 on the
// wire.
type envelope struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Scope     string `json:"scope,omitempty"`
	Sealed    []byte `json:"sealed"`
}

// EnvelopeMetadata names the key that sealed a ciphertext, readable without
// opening it.
type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
	Scope     string
}

func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm, Scope: env.Scope}, nil
}

func IsEnvelope(value []byte) bool {
	return bytes.HasPrefix(value, envelopePrefix)
}

func encodeEnvelope(env envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append(append([]byte(nil), envelopePrefix...), data...), nil
}

func decodeEnvelope(ciphertext []byte) (envelope, error) {
	payload, ok := bytes.CutPrefix(ciphertext, envelopePrefix)
	if !ok {
		return envelope{}, fmt.Errorf("security: value is not a sealed envelope")
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	switch {
	case env.Algorithm == "":
		return envelope{}, fmt.Errorf("security: envelope has no algorithm")
	case env.KeyID == "" || env.Version <= 0:
		return envelope{}, fmt.Errorf("security: envelope has no key reference")
	case len(env.Sealed) == 0:
		return envelope{}, fmt.Errorf("security: envelope has no payload")
	}
	return env, nil
}

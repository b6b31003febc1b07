package protocol

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/collabwire/collabwire/pkg/exception"
)

// Encode serializes an envelope to its JSON wire form.
func Encode(e Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, exception.ErrMissingType
	}

	data, err := sonic.ConfigFastest.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	return data, nil
}

// Decode parses a JSON wire frame into an envelope. Any failure, including an
// empty type, reports exception.ErrParse so the caller can recover locally.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := sonic.ConfigFastest.Unmarshal(data, &e); err != nil {
		return Envelope{}, errors.Wrap(exception.ErrParse, err.Error())
	}

	if e.Type == "" {
		return Envelope{}, errors.Wrap(exception.ErrParse, "envelope type is empty")
	}

	return e, nil
}

// Marshal serializes a typed payload for use as envelope data.
func Marshal(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}

	data, err := sonic.ConfigFastest.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	return data, nil
}

// Unmarshal parses envelope data into a typed payload.
func Unmarshal(data json.RawMessage, payload any) error {
	if err := sonic.ConfigFastest.Unmarshal(data, payload); err != nil {
		return errors.Wrap(exception.ErrParse, err.Error())
	}

	return nil
}

package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed wraps every decoding failure.
var ErrMalformed = errors.New("malformed message")

// Messages use integer map keys in deterministic order so that a request
// has exactly one encoding, which SigningBytes relies on. Unknown keys are
// ignored on decode.
var (
	enc cbor.EncMode
	dec cbor.DecMode
)

func init() {
	var err error
	if enc, err = (cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}).EncMode(); err != nil {
		panic(fmt.Sprintf("wire: encoder: %v", err))
	}
	if dec, err = (cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
		MaxMapPairs: 64,
	}).DecMode(); err != nil {
		panic(fmt.Sprintf("wire: decoder: %v", err))
	}
}

// EncodeRequest validates and encodes req.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return enc.Marshal(req)
}

// EncodeResponse encodes resp. The message ID must be set.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.MessageID == 0 {
		return nil, fmt.Errorf("invalid response: %w", ErrZeroMessageID)
	}
	return enc.Marshal(resp)
}

// DecodeRequest decodes and validates a request.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := dec.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrMalformed, err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// DecodeResponse decodes a response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := dec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", ErrMalformed, err)
	}
	if resp.MessageID == 0 {
		return nil, fmt.Errorf("%w: response: %w", ErrMalformed, ErrZeroMessageID)
	}
	return &resp, nil
}

// Message is a decoded message of either direction. Exactly one field is
// set.
type Message struct {
	Request  *Request
	Response *Response
}

// Decode decodes a message whose kind is not known in advance. A message
// carrying an operation (key 2) is a request, anything else a response.
func Decode(data []byte) (Message, error) {
	var head struct {
		MessageID uint32    `cbor:"1,keyasint"`
		Operation Operation `cbor:"2,keyasint,omitempty"`
	}
	if err := dec.Unmarshal(data, &head); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.MessageID == 0 {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, ErrZeroMessageID)
	}
	if head.Operation == 0 {
		resp, err := DecodeResponse(data)
		return Message{Response: resp}, err
	}
	req, err := DecodeRequest(data)
	return Message{Request: req}, err
}

// SigningBytes returns the encoding of req with Auth cleared, the input of
// request authentication tags.
func SigningBytes(req *Request) ([]byte, error) {
	unsigned := *req
	unsigned.Auth = nil
	return enc.Marshal(&unsigned)
}

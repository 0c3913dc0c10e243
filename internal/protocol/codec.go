package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolError indicates a malformed or unexpected envelope. A single bad
// frame is surfaced to the caller and otherwise ignored; it never tears
// down the connection.
type ProtocolError struct {
	MessageType string
	Detail      string
}

func (e *ProtocolError) Error() string {
	if e.MessageType == "" {
		return fmt.Sprintf("protocol: %s", e.Detail)
	}
	return fmt.Sprintf("protocol: %s: %s", e.MessageType, e.Detail)
}

// APIError is a well-formed error frame returned by the host.
type APIError struct {
	ErrorID int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("protocol: api error %d: %s", e.ErrorID, e.Message)
}

// EncodeRequest wraps data in the wire envelope and serialises it.
func EncodeRequest(requestID, messageType string, data any) ([]byte, error) {
	env := Request{
		APIName:     APIName,
		APIVersion:  APIVersion,
		RequestID:   requestID,
		MessageType: messageType,
		Timestamp:   time.Now().UnixMilli(),
		Data:        data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", messageType, err)
	}
	return payload, nil
}

// DecodeResponse parses the outer envelope, leaving Data raw.
func DecodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("decode envelope: %v", err)}
	}
	if resp.MessageType == "" {
		return nil, &ProtocolError{Detail: "envelope missing messageType"}
	}
	return &resp, nil
}

// DecodeData decodes the response payload into the variant named by the
// envelope's messageType tag. Unknown tags are a protocol error; an
// APIError frame decodes into *APIError so callers can match on it.
func DecodeData(resp *Response) (any, error) {
	switch resp.MessageType {
	case MessageAPIStateResponse:
		var data APIStateResponseData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		return &data, nil
	case MessageStateBroadcast:
		var data StateBroadcastData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		return &data, nil
	case MessageTokenResponse:
		var data TokenResponseData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		if data.AuthenticationToken == "" {
			return nil, &ProtocolError{MessageType: resp.MessageType, Detail: "empty authentication token"}
		}
		return &data, nil
	case MessageAuthenticationResponse:
		var data AuthenticationResponseData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		return &data, nil
	case MessageInjectParameterDataResponse:
		var data InjectParameterDataResponseData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		return &data, nil
	case MessageAPIError:
		var data APIErrorData
		if err := unmarshalData(resp, &data); err != nil {
			return nil, err
		}
		return nil, &APIError{ErrorID: data.ErrorID, Message: data.Message}
	default:
		return nil, &ProtocolError{MessageType: resp.MessageType, Detail: "unknown message type"}
	}
}

func unmarshalData(resp *Response, dst any) error {
	if len(resp.Data) == 0 {
		return &ProtocolError{MessageType: resp.MessageType, Detail: "envelope missing data"}
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return &ProtocolError{MessageType: resp.MessageType, Detail: fmt.Sprintf("decode data: %v", err)}
	}
	return nil
}

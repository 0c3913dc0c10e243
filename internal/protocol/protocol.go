package protocol

import "encoding/json"

// API identification carried in every envelope.
const (
	APIName    = "VTubeStudioPublicAPI"
	APIVersion = "1.0"
)

// Request message types
const (
	MessageAPIState            = "APIStateRequest"
	MessageTokenRequest        = "AuthenticationTokenRequest"
	MessageAuthentication      = "AuthenticationRequest"
	MessageInjectParameterData = "InjectParameterDataRequest"
)

// Response message types
const (
	MessageAPIStateResponse            = "APIStateResponse"
	MessageTokenResponse               = "AuthenticationTokenResponse"
	MessageAuthenticationResponse      = "AuthenticationResponse"
	MessageInjectParameterDataResponse = "InjectParameterDataResponse"
	MessageAPIError                    = "APIError"
	MessageStateBroadcast              = "VTubeStudioAPIStateBroadcast"
)

// Request is the wire envelope for client-to-host messages. Timestamp is
// milliseconds since epoch, carried in both directions.
type Request struct {
	APIName     string `json:"apiName"`
	APIVersion  string `json:"apiVersion"`
	RequestID   string `json:"requestID"`
	MessageType string `json:"messageType"`
	Timestamp   int64  `json:"timestamp"`
	Data        any    `json:"data,omitempty"`
}

// Response is the wire envelope for host-to-client messages. Data stays
// raw until the messageType tag has been inspected.
type Response struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// APIStateRequestData is empty; the request only carries its type.
type APIStateRequestData struct{}

// APIStateResponseData reports host availability and session auth state.
type APIStateResponseData struct {
	Active                      bool   `json:"active"`
	Version                     string `json:"vTubeStudioVersion"`
	CurrentSessionAuthenticated bool   `json:"currentSessionAuthenticated"`
}

// TokenRequestData asks the host to mint an authentication token for the
// identified plugin. The host shows a confirmation dialog to its operator.
type TokenRequestData struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
	PluginIcon      string `json:"pluginIcon,omitempty"`
}

// TokenResponseData carries the minted token.
type TokenResponseData struct {
	AuthenticationToken string `json:"authenticationToken"`
}

// AuthenticationRequestData authenticates the current session with a
// previously minted token.
type AuthenticationRequestData struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

// AuthenticationResponseData reports the auth outcome. Reason is
// human-readable and set on both success and rejection.
type AuthenticationResponseData struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason"`
}

// ParameterValue is a single injected tracking parameter.
type ParameterValue struct {
	ID     string  `json:"id"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight,omitempty"`
}

// InjectParameterDataRequestData pushes one frame of tracking parameters.
type InjectParameterDataRequestData struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode,omitempty"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

// InjectParameterDataResponseData is empty; receipt is the acknowledgement.
type InjectParameterDataResponseData struct{}

// APIErrorData is the host's error frame.
type APIErrorData struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

// StateBroadcastData is the UDP announcement the host emits so clients can
// discover the actual API port.
type StateBroadcastData struct {
	Active      bool   `json:"active"`
	Port        int    `json:"port"`
	InstanceID  string `json:"instanceID"`
	WindowTitle string `json:"windowTitle"`
}

// Package models defines WhatsApp Flow endpoint types to avoid circular imports.
package models

// FlowAction is the action field of a decrypted Flow data-exchange request.
type FlowAction string

// Flow actions sent by the WhatsApp client.
const (
	FlowActionPing         FlowAction = "ping"
	FlowActionInit         FlowAction = "INIT"
	FlowActionDataExchange FlowAction = "data_exchange"
	FlowActionBack         FlowAction = "BACK"
)

// FlowStatus values carried in data.status of health and terminal responses.
const (
	FlowStatusActive   = "active"
	FlowStatusComplete = "complete"
	FlowStatusError    = "error"
)

// EncryptedFlowRequest is the HTTP body Meta posts to the Flow endpoint.
type EncryptedFlowRequest struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

// Complete reports whether all three envelope fields are present.
func (r EncryptedFlowRequest) Complete() bool {
	return r.EncryptedFlowData != "" && r.EncryptedAESKey != "" && r.InitialVector != ""
}

// FlowRequest is the decrypted body of a Flow data-exchange request.
type FlowRequest struct {
	Version   string                 `json:"version"`
	Action    FlowAction             `json:"action"`
	Screen    string                 `json:"screen,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	FlowToken string                 `json:"flow_token,omitempty"`
}

// StringField returns data[key] as a string, or "" when absent or not a string.
func (r FlowRequest) StringField(key string) string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// FlowResponseKind discriminates the response shapes the endpoint can return.
type FlowResponseKind int

const (
	// FlowResponseScreen navigates the client to another screen.
	FlowResponseScreen FlowResponseKind = iota
	// FlowResponseHealth answers a ping.
	FlowResponseHealth
	// FlowResponseTerminal closes the flow with a completion payload.
	FlowResponseTerminal
	// FlowResponseError reports a business error to the client.
	FlowResponseError
)

// String returns the kind name used in logs.
func (k FlowResponseKind) String() string {
	switch k {
	case FlowResponseScreen:
		return "screen"
	case FlowResponseHealth:
		return "health"
	case FlowResponseTerminal:
		return "terminal"
	case FlowResponseError:
		return "error"
	default:
		return "unknown"
	}
}

// FlowResponse is the body returned to the WhatsApp client, before encryption.
type FlowResponse struct {
	Screen string                 `json:"screen,omitempty"`
	Data   map[string]interface{} `json:"data"`
}

// Kind classifies the response by its data.status field.
func (r FlowResponse) Kind() FlowResponseKind {
	status, _ := r.Data["status"].(string)
	switch status {
	case FlowStatusActive:
		return FlowResponseHealth
	case FlowStatusComplete:
		return FlowResponseTerminal
	case FlowStatusError:
		return FlowResponseError
	default:
		return FlowResponseScreen
	}
}

// NewScreenResponse builds a navigation response.
func NewScreenResponse(screen string, data map[string]interface{}) FlowResponse {
	if data == nil {
		data = map[string]interface{}{}
	}
	return FlowResponse{Screen: screen, Data: data}
}

// NewHealthResponse builds the ping reply.
func NewHealthResponse() FlowResponse {
	return FlowResponse{Data: map[string]interface{}{"status": FlowStatusActive}}
}

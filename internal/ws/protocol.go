package ws

// Event is one frame on the host event socket. Event names come from the
// packages that produce them: vrc.EventMute, realtime.EventMessage,
// realtime.EventClose, realtime.EventError.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Command request bodies.

type oscTypingRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type oscMessageRequest struct {
	Text    string `json:"text"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type realtimeConnectRequest struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

type realtimeSendRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	ListenerStarted   bool `json:"listenerStarted"`
	RealtimeConnected bool `json:"realtimeConnected"`
	GameRunning       bool `json:"gameRunning"`
}

package wire

// RegisterClient is the fire-and-forget identification payload sent on every
// successful connect.
type RegisterClient struct {
	Type string `json:"type"`
}

// ClientTypeChatbot identifies the scripted onboarding client.
const ClientTypeChatbot = "chatbot"

// AgentJoined announces a human agent entering a session room.
type AgentJoined struct {
	SessionID string `json:"sessionId"`
	AgentName string `json:"agentName"`
}

// SessionClosed announces a terminal close of one session.
type SessionClosed struct {
	SessionID string `json:"sessionId"`
}

// SessionError carries a session-scoped server error.
type SessionError struct {
	Error string `json:"error"`
}

// MessageError carries a message-scoped server error.
type MessageError struct {
	Error string `json:"error"`
}

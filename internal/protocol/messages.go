package protocol

// HelloMsg opens a gateway connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GatewayName     string `json:"gateway_name,omitempty"`

	Capabilities struct {
		MaxQueue int `json:"max_queue,omitempty"`
	} `json:"capabilities,omitempty"`
}

// WelcomeMsg acknowledges a HELLO.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EngineID        string `json:"engine_id"`
}

// TriggerMsg is an inbound trigger event: a principal fired a definition's
// trigger surface at some location.
type TriggerMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	DefinitionID    string `json:"definition_id"`
	PrincipalID     string `json:"principal_id"`
	LocationID      string `json:"location_id,omitempty"`
}

// ReplyMsg carries the bundled payloads produced by one trigger.
type ReplyMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	OK              bool      `json:"ok"`
	Code            string    `json:"code,omitempty"`
	Message         string    `json:"message,omitempty"`
	Payloads        []Payload `json:"payloads,omitempty"`
}

// PublishMsg asks the render gateway to create or overwrite an external
// message. For TypeUpdate and TypeDelete, MessageRef addresses the target;
// for TypePublish, ChannelRef names where to create it.
type PublishMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	LocationID      string  `json:"location_id,omitempty"`
	ChannelRef      string  `json:"channel_ref,omitempty"`
	MessageRef      string  `json:"message_ref,omitempty"`
	Payload         Payload `json:"payload,omitempty"`
}

// ResultMsg is the gateway's answer to a PUBLISH/UPDATE/DELETE request.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	MessageRef      string `json:"message_ref,omitempty"`
}

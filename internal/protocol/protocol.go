package protocol

import "encoding/json"

const Version = "1.0"

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Regenerate modes reported back to the caller.
const (
	RegenerateFull   = "FULL"
	RegenerateSmooth = "SMOOTH"
	RegenerateQueued = "QUEUED"
)

// RegenerateResponse is returned by POST /admin/v1/regenerate.
type RegenerateResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Mode            string `json:"mode"`
	Epoch           uint64 `json:"epoch"`
}

// ErrorResponse is the JSON body of every non-2xx admin response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

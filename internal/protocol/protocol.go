package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeEvent    = "EVENT"
	TypeDecision = "DECISION"
	TypeRecord   = "RECORD"
	TypeRecorded = "RECORDED"
	TypeScoreReq = "SCORE_REQ"
	TypeScore    = "SCORE"
	TypeNotify   = "NOTIFY"
	TypeError    = "ERROR"
)

// Activities a RECORD message can report.
const (
	ActivityTreeGrow    = "TREE_GROW"
	ActivityFurnaceBurn = "FURNACE_BURN"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

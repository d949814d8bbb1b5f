package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name"`
	Region          string     `json:"region,omitempty"`
	Subscribe       bool       `json:"subscribe,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	SessionID       string            `json:"session_id"`
	Region          string            `json:"region"`
	Regions         []RegionRef       `json:"regions"`
	Catalogs        map[string]string `json:"catalogs,omitempty"`
}

type RegionRef struct {
	RegionID    string   `json:"region_id"`
	Enabled     bool     `json:"enabled"`
	Effects     []string `json:"effects,omitempty"`
	Temperature float64  `json:"temperature"`
}

// EVENT (client -> server): a gameplay event the host is about to apply.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Region          string `json:"region,omitempty"`
	Kind            string `json:"kind"`
	Subject         string `json:"subject"`
}

// DECISION (server -> client)
type DecisionMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	Region          string  `json:"region"`
	Kind            string  `json:"kind"`
	Subject         string  `json:"subject"`
	Action          string  `json:"action"`
	Outcome         string  `json:"outcome,omitempty"`
	Active          bool    `json:"active"`
	Temperature     float64 `json:"temperature"`
	Value           float64 `json:"value"`
	Band            string  `json:"band,omitempty"`
	Adverse         bool    `json:"adverse"`
}

// RECORD (client -> server): a scoring activity.
type RecordMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Region          string `json:"region,omitempty"`
	Actor           string `json:"actor"`
	Activity        string `json:"activity"`
	Material        string `json:"material"`
	Blocks          int    `json:"blocks,omitempty"`
}

// RECORDED (server -> client)
type RecordedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	RecordID        string `json:"record_id"`
	Region          string `json:"region"`
	Actor           string `json:"actor"`
	Delta           int64  `json:"delta"`
	RegionScore     int64  `json:"region_score"`
	PlayerScore     int64  `json:"player_score"`
}

// SCORE_REQ (client -> server)
type ScoreReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Region          string `json:"region,omitempty"`
	Actor           string `json:"actor,omitempty"`
	Top             int    `json:"top,omitempty"`
}

// SCORE (server -> client)
type ScoreMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Region          string           `json:"region"`
	Enabled         bool             `json:"enabled"`
	Score           int64            `json:"score"`
	Temperature     float64          `json:"temperature"`
	CarbonIndex     float64          `json:"carbon_index"`
	Actor           string           `json:"actor,omitempty"`
	PlayerScore     int64            `json:"player_score,omitempty"`
	Top             []PlayerStanding `json:"top,omitempty"`
}

type PlayerStanding struct {
	Actor string `json:"actor"`
	Score int64  `json:"score"`
}

// NOTIFY (server -> client)
type NotifyMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Region          string  `json:"region"`
	Kind            string  `json:"kind,omitempty"`
	Subject         string  `json:"subject,omitempty"`
	Text            string  `json:"text"`
	Band            string  `json:"band,omitempty"`
	Temperature     float64 `json:"temperature"`
	Disabled        bool    `json:"disabled,omitempty"`
	IssuedAt        string  `json:"issued_at"`
	ExpiresAt       string  `json:"expires_at"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, msg string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Code:            code,
		Message:         msg,
	}
}

package hub

// Outbound message types.
const (
	typeTranscript   = "transcript"
	typeConfirmation = "confirmation"
	typeActivity     = "activity"
	typeStatus       = "status"
)

// Inbound message types.
const (
	typeResolve     = "resolve"
	typePause       = "pause"
	typeBargeIn     = "barge_in"
	typePermissions = "permissions"
	typeFrame       = "frame"
)

type outbound struct {
	Type     string   `json:"type"`
	Sender   string   `json:"sender,omitempty"`
	Text     string   `json:"text,omitempty"`
	ID       string   `json:"id,omitempty"`
	Tool     string   `json:"tool,omitempty"`
	Args     string   `json:"args,omitempty"`
	Activity string   `json:"activity,omitempty"`
	Tools    []string `json:"tools,omitempty"`
	Status   string   `json:"status,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

type inbound struct {
	Type string `json:"type"`

	// resolve
	ID       string `json:"id"`
	Approved *bool  `json:"approved"`

	// pause
	Paused bool `json:"paused"`

	// barge_in
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`

	// permissions
	Permissions   map[string]bool `json:"permissions"`
	MasterControl bool            `json:"master_control"`

	// frame; Data is base64 in JSON.
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

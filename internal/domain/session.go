package domain

type SessionStatus string

const (
	StatusIdle  SessionStatus = "idle"
	StatusStart SessionStatus = "start"
	StatusEnd   SessionStatus = "end"
)

type Language struct {
	Source string   `json:"source"`
	Target []string `json:"target"`
}

// SessionMetadata is the shared control-plane record of a room. It is only
// mutated while the room's start/stop lock is held.
type SessionMetadata struct {
	Status    SessionStatus `json:"status"`
	TaskID    string        `json:"taskId,omitempty"`
	Token     string        `json:"token,omitempty"`
	StartTime int64         `json:"startTime,omitempty"`
	Duration  int64         `json:"duration,omitempty"`
	Languages []Language    `json:"languages,omitempty"`
}

func NewSessionMetadata() SessionMetadata {
	return SessionMetadata{Status: StatusIdle}
}

// MetadataPatch is a partial update; nil fields are left untouched.
type MetadataPatch struct {
	Status    *SessionStatus `json:"status,omitempty"`
	TaskID    *string        `json:"taskId,omitempty"`
	Token     *string        `json:"token,omitempty"`
	StartTime *int64         `json:"startTime,omitempty"`
	Duration  *int64         `json:"duration,omitempty"`
	Languages []Language     `json:"languages,omitempty"`
}

func (p MetadataPatch) Empty() bool {
	return p.Status == nil && p.TaskID == nil && p.Token == nil &&
		p.StartTime == nil && p.Duration == nil && p.Languages == nil
}

// Apply returns a copy of m with the patch merged in.
func (m SessionMetadata) Apply(p MetadataPatch) SessionMetadata {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.TaskID != nil {
		m.TaskID = *p.TaskID
	}
	if p.Token != nil {
		m.Token = *p.Token
	}
	if p.StartTime != nil {
		m.StartTime = *p.StartTime
	}
	if p.Duration != nil {
		m.Duration = *p.Duration
	}
	if p.Languages != nil {
		m.Languages = append([]Language(nil), p.Languages...)
	}
	return m
}

// Expired reports whether an active session ran past its configured duration.
func (m SessionMetadata) Expired(nowMs int64) bool {
	if m.Status != StatusStart || m.StartTime == 0 || m.Duration == 0 {
		return false
	}
	return nowMs-m.StartTime > m.Duration
}

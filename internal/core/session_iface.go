package core

import "github.com/dkeye/Parley/internal/domain"

// SessionID identifies one transport connection. It changes across
// reconnects while the participant's UserID stays stable.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

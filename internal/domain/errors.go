package domain

import "errors"

var (
	ErrMissingField    = errors.New("missing required fields: channel, userId, userName")
	ErrNotJoined       = errors.New("you must join a channel first")
	ErrEmptyTextstream = errors.New("transcription textstream cannot be empty")
	ErrWrongChannel    = errors.New("not a member of that channel")
)

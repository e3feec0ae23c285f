package models

import "errors"

var (
	ErrEmptyRoomID        = errors.New("room id is empty")
	ErrInvalidRoomID      = errors.New("room id contains reserved characters")
	ErrEmptyName          = errors.New("player name is empty")
	ErrInvalidChoice      = errors.New("invalid choice")
	ErrActionNotPermitted = errors.New("action not permitted in current phase")
	ErrSessionNotFound    = errors.New("session not found")
)

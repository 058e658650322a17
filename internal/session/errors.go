package session

import "errors"

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrBusy            = errors.New("a response is already streaming")
	ErrMessageNotFound = errors.New("message not found")
)

package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNotReady     = errors.New("order book not ready")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrMalformed    = errors.New("malformed message")
	ErrCooldown     = errors.New("cooldown active")
)

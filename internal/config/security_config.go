package config

import "time"

type SecurityConfig interface {
	GetSessionTTL() time.Duration
	GetStateMaxAge() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetSessionTTL() time.Duration {
	return 30 * 24 * time.Hour
}

func (Security) GetStateMaxAge() time.Duration {
	return 5 * time.Minute // OAuth state tokens are single-handshake artifacts
}

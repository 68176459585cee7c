package service

import (
	"time"

	"logging_proxy/internal/models"
	"logging_proxy/internal/repository"
)

// Authorization guards access to the observer stream.
type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// EventStream is the process-wide broadcast channel of log events.
type EventStream interface {
	Publish(ev models.LogEvent)
	Subscribe() *Subscription
	Unsubscribe(sub *Subscription)
	Stats() BroadcastStats
}

// Compile-time check.
var _ EventStream = (*Broadcaster)(nil)

// AuthOptions configures token signing for dashboard users.
type AuthOptions struct {
	SigningKey string
	TokenTTL   time.Duration
}

// Service aggregates the services the dashboard handlers depend on.
type Service struct {
	EventStream
	Authorization
}

// NewService wires the broadcaster and, when repos is non-nil, dashboard auth.
func NewService(events EventStream, repos *repository.Repository, auth AuthOptions) *Service {
	s := &Service{EventStream: events}
	if repos != nil {
		s.Authorization = NewAuthService(repos.Auth, auth.SigningKey, auth.TokenTTL)
	}
	return s
}

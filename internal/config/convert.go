package config

import (
	"time"

	"github.com/danmuck/chatctl/internal/client"
	"github.com/danmuck/chatctl/internal/hub"
	"github.com/danmuck/chatctl/internal/outbox"
	"github.com/danmuck/chatctl/internal/transport"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// TransportConfig maps the file knobs onto the transport layer. Zero values
// pass through and pick up transport defaults.
func (c ClientConfig) TransportConfig() transport.Config {
	return transport.Config{
		URL:                  c.HubURL,
		App:                  c.App,
		ConnectTimeout:       ms(c.Reliability.ConnectTimeoutMS),
		WriteTimeout:         ms(c.Reliability.WriteTimeoutMS),
		AckTimeout:           ms(c.Reliability.AckTimeoutMS),
		MaxReconnectAttempts: c.Reliability.MaxReconnectAttempts,
		Backoff: transport.BackoffConfig{
			InitialDelay: ms(c.Reliability.BackoffInitialMS),
			Multiplier:   c.Reliability.BackoffMultiplier,
			MaxDelay:     ms(c.Reliability.BackoffMaxMS),
			Jitter:       c.Reliability.BackoffJitter,
		},
	}
}

func (c ClientConfig) OutboxConfig() outbox.Config {
	return outbox.Config{
		App:            c.App,
		MaxAttempts:    c.Reliability.SendMaxAttempts,
		AttemptTimeout: ms(c.Reliability.SendTimeoutMS),
		RetryDelay:     ms(c.Reliability.SendRetryDelayMS),
	}
}

func (c ClientConfig) ClientConfig() client.Config {
	return client.Config{
		App:              c.App,
		NegotiateTimeout: ms(c.Reliability.NegotiateTimeoutMS),
		SessionRetries:   c.Reliability.SessionRetries,
		Outbox:           c.OutboxConfig(),
	}
}

func (c HubConfig) HubConfig() hub.Config {
	return hub.Config{
		App:            c.App,
		AutoAgentName:  c.AutoAgentName,
		AutoAgentDelay: ms(c.AutoAgentDelayMS),
	}
}

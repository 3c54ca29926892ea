package config

import (
	"time"

	"github.com/worksonmyai/dirigent/internal/protocol"
)

// Snapshot is the immutable, resolved view of configuration the engine
// reads once at each phase boundary. Operators can edit settings mid-run;
// a phase only ever sees one consistent copy.
type Snapshot struct {
	MaxIterations    int
	InitCreateBranch bool
	WriteTests       bool
	BackgroundMode   bool
	AgentMode        protocol.AgentMode

	PreferredModels []string

	IdleTimeout        time.Duration
	CheckAgentInterval time.Duration
	EnsureChatInterval time.Duration

	SettleShort time.Duration
	SettleLong  time.Duration
}

// Snapshot resolves the current configuration into an immutable copy.
func (c *Config) Snapshot() Snapshot {
	s := Snapshot{
		MaxIterations:      c.MaxIterations,
		InitCreateBranch:   c.InitCreateBranch,
		WriteTests:         c.WriteTests,
		BackgroundMode:     c.BackgroundMode,
		AgentMode:          protocol.AgentMode(c.AgentMode),
		IdleTimeout:        time.Duration(c.IdleTimeoutSeconds) * time.Second,
		CheckAgentInterval: time.Duration(c.CheckAgentFrequencyMs) * time.Millisecond,
		EnsureChatInterval: time.Duration(c.EnsureChatFrequencyMs) * time.Millisecond,
		SettleShort:        time.Duration(c.SettleShortSeconds) * time.Second,
		SettleLong:         time.Duration(c.SettleLongSeconds) * time.Second,
	}

	s.PreferredModels = make([]string, len(c.PreferredModels))
	copy(s.PreferredModels, c.PreferredModels)

	if s.MaxIterations < 1 {
		s.MaxIterations = protocol.DefaultMaxIterations
	}
	if s.AgentMode == "" {
		s.AgentMode = protocol.ModeAgent
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = protocol.DefaultIdleTimeout
	}
	if s.CheckAgentInterval <= 0 {
		s.CheckAgentInterval = protocol.DefaultCheckAgentInterval
	}
	if s.EnsureChatInterval <= 0 {
		s.EnsureChatInterval = protocol.DefaultEnsureChatInterval
	}
	if s.SettleShort <= 0 {
		s.SettleShort = protocol.DefaultSettleShort
	}
	if s.SettleLong <= 0 {
		s.SettleLong = protocol.DefaultSettleLong
	}

	return s
}

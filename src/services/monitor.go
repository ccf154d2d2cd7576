package services

import (
	"context"
	"fmt"
	"log/slog"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// Presence tracks which players currently have a session.
type Presence interface {
	SetOnline(identity string)
	SetOffline(identity string)
}

// Monitor routes host events to the clan components.
type Monitor struct {
	registry         *Registry
	tracker          *CombatTracker
	notifier         *Notifier
	presence         Presence
	specialKillEvent string
	logger           *slog.Logger
}

func NewMonitor(
	registry *Registry,
	tracker *CombatTracker,
	notifier *Notifier,
	presence Presence,
	specialKillEvent string,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &Monitor{
		registry:         registry,
		tracker:          tracker,
		notifier:         notifier,
		presence:         presence,
		specialKillEvent: specialKillEvent,
		logger:           logger,
	}
}

func (m *Monitor) Dispatch(ctx context.Context, event models.HostEvent) error {
	switch e := event.(type) {
	case models.HitEvent:
		m.tracker.RegisterHit(e)
		return nil
	case models.DeathEvent:
		if err := m.tracker.ResolveDeath(ctx, e.Victim); err != nil {
			return fmt.Errorf("resolve death of %s: %w", e.Victim, err)
		}
		return nil
	case models.SessionStartEvent:
		if m.presence != nil {
			m.presence.SetOnline(e.Identity)
		}
		m.notifier.SessionStarted(e.Identity)
		return nil
	case models.SessionEndEvent:
		m.notifier.SessionEnded(e.Identity)
		if m.presence != nil {
			m.presence.SetOffline(e.Identity)
		}
		return nil
	case models.CustomEvent:
		if e.Name != m.specialKillEvent {
			m.logger.Debug("ignored custom event", "name", e.Name)
			return nil
		}
		if err := m.registry.RecordSpecialKill(ctx, e.Identity); err != nil {
			return fmt.Errorf("record special kill: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported host event %T", event)
	}
}

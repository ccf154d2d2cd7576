package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// attribution is the live record of a victim's last qualifying attacker.
type attribution struct {
	attacker string
	expires  time.Time
	timer    lib.Timer
}

// CombatTracker remembers, per victim, who last struck them within the
// combat window, and turns deaths into betrayals or clan statistics.
type CombatTracker struct {
	registry  *Registry
	bus       *EventBus
	zones     ZoneSet
	scheduler lib.Scheduler
	window    time.Duration
	logger    *slog.Logger
	metrics   *lib.Metrics

	entries *xsync.MapOf[string, *attribution]
}

func NewCombatTracker(
	registry *Registry,
	bus *EventBus,
	zones ZoneSet,
	scheduler lib.Scheduler,
	window time.Duration,
	logger *slog.Logger,
	metrics *lib.Metrics,
) *CombatTracker {
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &CombatTracker{
		registry:  registry,
		bus:       bus,
		zones:     zones,
		scheduler: scheduler,
		window:    window,
		logger:    logger,
		metrics:   metrics,
		entries:   xsync.NewMapOf[string, *attribution](),
	}
}

// RegisterHit records the hit when it qualifies and reports whether it did.
// A qualifying hit replaces any live entry for the victim and restarts the
// window.
func (t *CombatTracker) RegisterHit(hit models.HitEvent) bool {
	attacker, ok := t.resolveAttacker(hit)
	if !ok {
		t.metrics.Inc(lib.MetricHitsDropped)
		return false
	}

	victim := hit.Victim.ID
	entry := &attribution{attacker: attacker, expires: t.scheduler.Now().Add(t.window)}
	t.entries.Compute(victim, func(current *attribution, loaded bool) (*attribution, bool) {
		if loaded {
			current.timer.Stop()
		}
		entry.timer = t.scheduler.AfterFunc(t.window, func() { t.expire(victim, entry) })
		return entry, false
	})
	t.metrics.Inc(lib.MetricHitsRegistered)
	return true
}

// LastAttacker returns the live attacker of victim, if any.
func (t *CombatTracker) LastAttacker(victim string) (string, bool) {
	entry, ok := t.entries.Load(victim)
	if !ok || !t.scheduler.Now().Before(entry.expires) {
		return "", false
	}
	return entry.attacker, true
}

// ResolveDeath attributes the death to the victim's live attacker. The entry
// stays until its window runs out or a newer hit replaces it. Clanmates
// produce Betrayal (and Mutiny when the victim led the clan); members of
// different clans score a kill and a death.
func (t *CombatTracker) ResolveDeath(ctx context.Context, victim string) error {
	entry, ok := t.entries.Load(victim)
	if !ok || !t.scheduler.Now().Before(entry.expires) {
		return nil
	}

	victimClan, ok := t.registry.ClanOf(victim)
	if !ok {
		return nil
	}
	attackerClan, ok := t.registry.ClanOf(entry.attacker)
	if !ok {
		return nil
	}

	if victimClan.Code == attackerClan.Code {
		t.metrics.Inc(lib.MetricBetrayals)
		t.logger.Info("clan betrayal", "clan", victimClan.Code, "attacker", entry.attacker, "victim", victim)
		t.bus.Publish(ctx, models.BetrayalEvent{Clan: victimClan.Code, Attacker: entry.attacker, Victim: victim})
		if victimClan.Leader == victim {
			t.metrics.Inc(lib.MetricMutinies)
			t.bus.Publish(ctx, models.MutinyEvent{Clan: victimClan.Code, Attacker: entry.attacker, Victim: victim})
		}
		return nil
	}

	t.metrics.Inc(lib.MetricDeathsAttributed)
	return errors.Join(
		t.registry.RecordKill(ctx, entry.attacker),
		t.registry.RecordDeath(ctx, victim),
	)
}

// Tracked reports how many victims currently have a live entry.
func (t *CombatTracker) Tracked() int {
	return t.entries.Size()
}

func (t *CombatTracker) expire(victim string, entry *attribution) {
	t.entries.Compute(victim, func(current *attribution, loaded bool) (*attribution, bool) {
		if !loaded {
			return current, true
		}
		return current, current == entry
	})
}

func (t *CombatTracker) resolveAttacker(hit models.HitEvent) (string, bool) {
	victim := hit.Victim
	if victim.ID == "" || victim.Vanished {
		return "", false
	}
	if !t.zones.IsEligibleZone(victim.Zone) {
		return "", false
	}

	var source *models.Combatant
	switch {
	case hit.Attacker != nil:
		source = hit.Attacker
	case hit.Projectile != nil:
		if harmlessProjectile(hit.Projectile.Kind) {
			return "", false
		}
		source = hit.Projectile.Shooter
	}

	if source == nil || source.ID == "" || source.Vanished || hit.HiddenFromVictim {
		return "", false
	}
	if source.ID == victim.ID {
		return "", false
	}
	return source.ID, true
}

func harmlessProjectile(kind models.ProjectileKind) bool {
	switch kind {
	case models.ProjectileEgg, models.ProjectileSnowball:
		return true
	default:
		return false
	}
}

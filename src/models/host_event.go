package models

// HostEvent is an event delivered by the game host. The concrete variants are
// HitEvent, DeathEvent, SessionStartEvent, SessionEndEvent and CustomEvent.
type HostEvent interface {
	hostEvent()
}

// Combatant is a player as seen at the moment of a hit.
type Combatant struct {
	ID       string `json:"id"`
	Vanished bool   `json:"vanished,omitempty"`
	Zone     string `json:"zone,omitempty"`
}

// ProjectileKind identifies the projectile that carried a hit.
type ProjectileKind string

const (
	ProjectileArrow      ProjectileKind = "arrow"
	ProjectileTrident    ProjectileKind = "trident"
	ProjectileFireball   ProjectileKind = "fireball"
	ProjectileEgg        ProjectileKind = "egg"
	ProjectileSnowball   ProjectileKind = "snowball"
	ProjectileEnderPearl ProjectileKind = "ender_pearl"
)

// Projectile is a launched entity. Shooter is nil when nobody launched it
// (dispensers, environment).
type Projectile struct {
	Kind    ProjectileKind `json:"kind"`
	Shooter *Combatant     `json:"shooter,omitempty"`
}

// HitEvent is one player taking damage. Exactly one of Attacker and
// Projectile is normally set; HiddenFromVictim marks an attacker the victim is
// configured not to see.
type HitEvent struct {
	Victim           Combatant   `json:"victim"`
	Attacker         *Combatant  `json:"attacker,omitempty"`
	Projectile       *Projectile `json:"projectile,omitempty"`
	HiddenFromVictim bool        `json:"hidden_from_victim,omitempty"`
}

type DeathEvent struct {
	Victim string `json:"victim"`
}

type SessionStartEvent struct {
	Identity string `json:"identity"`
}

type SessionEndEvent struct {
	Identity string `json:"identity"`
}

// CustomEvent is a named plugin event fired for a player.
type CustomEvent struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

func (HitEvent) hostEvent()          {}
func (DeathEvent) hostEvent()        {}
func (SessionStartEvent) hostEvent() {}
func (SessionEndEvent) hostEvent()   {}
func (CustomEvent) hostEvent()       {}

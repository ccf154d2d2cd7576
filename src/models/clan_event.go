package models

// ClanEventType is the discriminator of a ClanEvent.
type ClanEventType string

const (
	ClanEventJoin     ClanEventType = "join"
	ClanEventLeave    ClanEventType = "leave"
	ClanEventKick     ClanEventType = "kick"
	ClanEventBetrayal ClanEventType = "betrayal"
	ClanEventMutiny   ClanEventType = "mutiny"
)

// ClanEvent is an event produced by the clan core. The concrete variants are
// JoinEvent, LeaveEvent, KickEvent, BetrayalEvent and MutinyEvent.
type ClanEvent interface {
	Type() ClanEventType
	ClanCode() string
	// Subject is the identity the event is about: the member for roster
	// changes and the attacker for combat consequences.
	Subject() string
}

type JoinEvent struct {
	Clan   string `json:"clan"`
	Member string `json:"member"`
}

func (e JoinEvent) Type() ClanEventType { return ClanEventJoin }
func (e JoinEvent) ClanCode() string    { return e.Clan }
func (e JoinEvent) Subject() string     { return e.Member }

type LeaveEvent struct {
	Clan   string `json:"clan"`
	Member string `json:"member"`
}

func (e LeaveEvent) Type() ClanEventType { return ClanEventLeave }
func (e LeaveEvent) ClanCode() string    { return e.Clan }
func (e LeaveEvent) Subject() string     { return e.Member }

type KickEvent struct {
	Clan   string `json:"clan"`
	Member string `json:"member"`
	Kicker string `json:"kicker"`
}

func (e KickEvent) Type() ClanEventType { return ClanEventKick }
func (e KickEvent) ClanCode() string    { return e.Clan }
func (e KickEvent) Subject() string     { return e.Member }

// BetrayalEvent is raised when Attacker kills Victim from the same clan.
type BetrayalEvent struct {
	Clan     string `json:"clan"`
	Attacker string `json:"attacker"`
	Victim   string `json:"victim"`
}

func (e BetrayalEvent) Type() ClanEventType { return ClanEventBetrayal }
func (e BetrayalEvent) ClanCode() string    { return e.Clan }
func (e BetrayalEvent) Subject() string     { return e.Attacker }

// MutinyEvent is raised alongside BetrayalEvent when the victim led the clan.
type MutinyEvent struct {
	Clan     string `json:"clan"`
	Attacker string `json:"attacker"`
	Victim   string `json:"victim"`
}

func (e MutinyEvent) Type() ClanEventType { return ClanEventMutiny }
func (e MutinyEvent) ClanCode() string    { return e.Clan }
func (e MutinyEvent) Subject() string     { return e.Attacker }

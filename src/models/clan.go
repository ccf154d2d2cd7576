package models

import (
	"slices"
	"sort"
)

// Counter names one of a clan's monotonically increasing statistics.
type Counter string

const (
	CounterKills        Counter = "kills"
	CounterDeaths       Counter = "deaths"
	CounterSpecialKills Counter = "special_kills"
)

// Valid reports whether c is one of the known counters.
func (c Counter) Valid() bool {
	switch c {
	case CounterKills, CounterDeaths, CounterSpecialKills:
		return true
	default:
		return false
	}
}

// Clan is a cached clan record together with its roster.
//
// Clan values are treated as immutable snapshots: the With* helpers return
// modified copies and never touch the receiver's Members slice.
type Clan struct {
	Code         string   `json:"code"`
	Leader       string   `json:"leader"`
	Motd         string   `json:"motd"`
	Kills        int      `json:"kills"`
	Deaths       int      `json:"deaths"`
	SpecialKills int      `json:"special_kills"`
	CreatedAt    int64    `json:"created_at"`
	Members      []string `json:"members"`
}

func (c Clan) HasMember(identity string) bool {
	_, found := slices.BinarySearch(c.Members, identity)
	return found
}

func (c Clan) Size() int {
	return len(c.Members)
}

func (c Clan) Counter(counter Counter) int {
	switch counter {
	case CounterKills:
		return c.Kills
	case CounterDeaths:
		return c.Deaths
	case CounterSpecialKills:
		return c.SpecialKills
	default:
		return 0
	}
}

func (c Clan) WithMember(identity string) Clan {
	if c.HasMember(identity) {
		return c
	}
	members := make([]string, 0, len(c.Members)+1)
	members = append(members, c.Members...)
	members = append(members, identity)
	sort.Strings(members)
	c.Members = members
	return c
}

func (c Clan) WithoutMember(identity string) Clan {
	idx, found := slices.BinarySearch(c.Members, identity)
	if !found {
		return c
	}
	members := make([]string, 0, len(c.Members)-1)
	members = append(members, c.Members[:idx]...)
	members = append(members, c.Members[idx+1:]...)
	c.Members = members
	return c
}

func (c Clan) WithCounter(counter Counter, value int) Clan {
	switch counter {
	case CounterKills:
		c.Kills = value
	case CounterDeaths:
		c.Deaths = value
	case CounterSpecialKills:
		c.SpecialKills = value
	}
	return c
}

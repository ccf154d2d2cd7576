package services

import (
	"strings"
)

// ChatProvider owns the per-clan chat channels.
type ChatProvider interface {
	Send(code, text string)
	Join(identity, code string)
	Leave(identity, code string)
}

// Messenger delivers direct notices to players that are currently reachable.
type Messenger interface {
	IsOnline(identity string) bool
	SendMessage(identity, text string)
}

// ZoneSet answers whether a zone takes part in clan combat.
type ZoneSet struct {
	zones map[string]struct{}
}

func NewZoneSet(zones []string) ZoneSet {
	set := ZoneSet{zones: make(map[string]struct{}, len(zones))}
	for _, z := range zones {
		if z = strings.TrimSpace(z); z != "" {
			set.zones[z] = struct{}{}
		}
	}
	return set
}

// ParseZoneSet builds a ZoneSet from a comma-separated allow-list.
func ParseZoneSet(list string) ZoneSet {
	return NewZoneSet(strings.Split(list, ","))
}

func (z ZoneSet) IsEligibleZone(name string) bool {
	_, ok := z.zones[name]
	return ok
}

type nopChat struct{}

func (nopChat) Send(string, string)  {}
func (nopChat) Join(string, string)  {}
func (nopChat) Leave(string, string) {}

type nopMessenger struct{}

func (nopMessenger) IsOnline(string) bool       { return false }
func (nopMessenger) SendMessage(string, string) {}

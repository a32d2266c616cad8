package parser

import (
	"cs2-demo-pipeline/internal/entities"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/schema"
	"cs2-demo-pipeline/internal/stringtables"
)

// resolver maps event user ids to accounts through the userinfo table and
// reads the current team off the player's controller.
type resolver struct {
	registry *schema.Registry
	tables   *stringtables.Manager
	store    *entities.Store
}

func (r *resolver) ResolveUser(userID int32) (uint64, events.Team, bool) {
	info, ok := r.tables.Player(userID & 0xff)
	if !ok {
		info, ok = r.tables.PlayerBySlot(userID & 0xff)
	}
	if !ok || info.XUID == 0 {
		return 0, events.TeamUnassigned, false
	}
	team := events.TeamUnassigned
	if id, ok := r.registry.PropID("m_iTeamNum"); ok {
		if controller, ok := r.store.Entity(info.Slot + 1); ok {
			if v, ok := controller.Get(id); ok {
				team = events.Team(v.Uint())
			}
		}
	}
	return info.XUID, team, true
}

package events

import "sort"

// Cache retains the events needed after the stream has been consumed,
// addressable by tick range. Events must be added in tick order.
type Cache struct {
	fires  []WeaponFire
	hurts  []PlayerHurt
	deaths []PlayerDeath
}

// Add records e when it belongs to one of the cached kinds.
func (c *Cache) Add(e Event) {
	switch ev := e.(type) {
	case WeaponFire:
		c.fires = append(c.fires, ev)
	case PlayerHurt:
		c.hurts = append(c.hurts, ev)
	case PlayerDeath:
		c.deaths = append(c.deaths, ev)
	}
}

// WeaponFires returns the shots with start <= tick <= end.
func (c *Cache) WeaponFires(start, end uint32) []WeaponFire {
	lo, hi := window(len(c.fires), func(i int) uint32 { return c.fires[i].Tick }, start, end)
	return c.fires[lo:hi]
}

// PlayerHurts returns the damage events with start <= tick <= end.
func (c *Cache) PlayerHurts(start, end uint32) []PlayerHurt {
	lo, hi := window(len(c.hurts), func(i int) uint32 { return c.hurts[i].Tick }, start, end)
	return c.hurts[lo:hi]
}

// PlayerDeaths returns the deaths with start <= tick <= end.
func (c *Cache) PlayerDeaths(start, end uint32) []PlayerDeath {
	lo, hi := window(len(c.deaths), func(i int) uint32 { return c.deaths[i].Tick }, start, end)
	return c.deaths[lo:hi]
}

// Len returns the number of cached events.
func (c *Cache) Len() int { return len(c.fires) + len(c.hurts) + len(c.deaths) }

func window(n int, tick func(int) uint32, start, end uint32) (int, int) {
	if start > end {
		return 0, 0
	}
	lo := sort.Search(n, func(i int) bool { return tick(i) >= start })
	hi := sort.Search(n, func(i int) bool { return tick(i) > end })
	return lo, hi
}

package scheduler

import (
	"math"
	"time"
)

const (
	siteEvery    = 60 * time.Second
	persistEvery = 300 * time.Second
)

// Every returns how many ticks of length interval approximate period,
// never less than one.
func Every(period, interval time.Duration) uint64 {
	if interval <= 0 {
		return 1
	}
	k := math.Round(float64(period) / float64(interval))
	if k < 1 {
		return 1
	}
	return uint64(k)
}

// Cadence holds the tick multiples for the periodic jobs at one interval.
type Cadence struct {
	Site     uint64
	Identity uint64
	Persist  uint64
	// IdentityOffset puts identity checks near halfway between site checks,
	// never on a site tick when the two periods allow it.
	IdentityOffset uint64
}

func NewCadence(interval, identityEvery time.Duration) Cadence {
	c := Cadence{
		Site:     Every(siteEvery, interval),
		Identity: Every(identityEvery, interval),
		Persist:  Every(persistEvery, interval),
	}
	c.IdentityOffset = identityOffset(c.Site, c.Identity)
	return c
}

// identityOffset starts from site/2 and moves forward until the phase can
// never meet a site tick. Phases o and 0 meet iff gcd(site, identity)
// divides o, so with coprime periods some overlap is unavoidable and only
// the zero phase is avoided.
func identityOffset(site, identity uint64) uint64 {
	o := (site / 2) % identity
	g := gcd(site, identity)
	if g == 1 {
		if o == 0 && identity > 1 {
			o = 1
		}
		return o
	}
	for o%g == 0 {
		o = (o + 1) % identity
	}
	return o
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (c Cadence) SiteDue(tick uint64) bool {
	return tick%c.Site == 0
}

func (c Cadence) IdentityDue(tick uint64) bool {
	return tick%c.Identity == c.IdentityOffset%c.Identity
}

func (c Cadence) PersistDue(tick uint64) bool {
	return tick%c.Persist == 0
}

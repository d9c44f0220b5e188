package store

import "time"

// Device is one managed switch port: the child's device it feeds and the
// switch that controls it.
type Device struct {
	ID       int64
	Name     string
	Address  string
	Username string
	Password string
	Port     int
}

// Window is one recurring weekly allowance. Day uses Monday = 0 through
// Sunday = 6; StartMin and EndMin are minutes of day, both bounds
// inclusive. A window with StartMin >= EndMin can never match.
type Window struct {
	ID       int64
	DeviceID int64
	Day      int
	StartMin int
	EndMin   int
	Enabled  bool
}

// Grant is a temporary access override. Extending an existing grant moves
// ExpiresAt forward; it never rewrites GrantedAt.
type Grant struct {
	ID        int64
	DeviceID  int64
	GrantedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// ActiveAt reports whether the grant is in force at the given instant.
// A grant whose expiry has passed counts as inactive even if the stored
// row has not been swept yet.
func (g *Grant) ActiveAt(now time.Time) bool {
	return g != nil && g.Active && now.Before(g.ExpiresAt)
}

// Punishment is a forced-off override. It outranks every other rule while
// in force and lapses at ExpiresAt, the start of the next scheduled
// allowance captured at activation time.
type Punishment struct {
	ID          int64
	DeviceID    int64
	ActivatedAt time.Time
	ExpiresAt   time.Time
	Active      bool
}

// ActiveAt reports whether the punishment is in force at the given instant.
func (p *Punishment) ActiveAt(now time.Time) bool {
	return p != nil && p.Active && now.Before(p.ExpiresAt)
}

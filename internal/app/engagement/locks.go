package engagement

import "sync"

// userLocks hands out one mutex per user. An entry exists only while some
// caller holds or waits for it, so the map stays as small as the set of
// users with work in flight.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

// userLock is a per-user mutex. notified remembers milestones this process
// announced while the entry was alive.
type userLock struct {
	sync.Mutex
	refs     int
	notified map[string]bool
}

func (u *userLocks) lock(userID string) *userLock {
	u.mu.Lock()
	if u.m == nil {
		u.m = make(map[string]*userLock)
	}
	l, ok := u.m[userID]
	if !ok {
		l = &userLock{notified: make(map[string]bool)}
		u.m[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return l
}

func (u *userLocks) unlock(userID string, l *userLock) {
	l.Unlock()

	u.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(u.m, userID)
	}
	u.mu.Unlock()
}

// len returns the number of users with an entry.
func (u *userLocks) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.m)
}

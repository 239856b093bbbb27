package cache

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// UserTable is the guild-independent user table. One table can back the
// caches of several shards.
type UserTable struct {
	rows *table[*userRecord]
}

// NewUserTable creates an empty user table.
func NewUserTable() *UserTable {
	return &UserTable{rows: newTable[*userRecord]()}
}

// Len returns the number of cached users.
func (t *UserTable) Len() int {
	return t.rows.len()
}

func (t *UserTable) clear() {
	for _, rec := range t.rows.clear() {
		rec.release(identity[models.User])
	}
}

func userKey(id snowflake.Snowflake) Key {
	return Key{ID: id}
}

func newUserRecord(u models.User) func() *userRecord {
	return func() *userRecord { return newRecord[models.User, models.User](u) }
}

func snapshotUser(rec *userRecord) models.User {
	return rec.snapshot(0, identity[models.User])
}

// User returns the cached user.
func (c *Cache) User(id snowflake.Snowflake) (models.User, bool) {
	rec, ok := c.users.rows.get(userKey(id))
	if !ok {
		return models.User{}, false
	}
	return snapshotUser(rec), true
}

// UpsertUser inserts the user if absent, then merges the payload into it.
func (c *Cache) UpsertUser(p models.UserPayload) models.User {
	rec, _ := c.users.rows.getOrCreate(userKey(p.ID), newUserRecord(models.User{ID: p.ID}))
	rec.update(func(u *models.User) { p.ApplyTo(u) })
	return snapshotUser(rec)
}

// SeedUser inserts u only when no record exists. Live records are never
// overwritten; the returned snapshot is whatever the cache holds afterwards.
func (c *Cache) SeedUser(u models.User) (models.User, bool) {
	rec, created := c.users.rows.getOrCreate(userKey(u.ID), newUserRecord(u))
	return snapshotUser(rec), created
}

// EnsureUser makes sure the referenced user is cached. Inline references
// merge their fields; reference-only ones are inserted with just the id when
// absent.
func (c *Cache) EnsureUser(ref models.UserRef) models.User {
	if p, ok := ref.Payload(); ok {
		return c.UpsertUser(p)
	}
	rec, _ := c.users.rows.getOrCreate(userKey(ref.ID()), newUserRecord(models.User{ID: ref.ID()}))
	return snapshotUser(rec)
}

// ResolveUser resolves a reference without mutating the cache. The cached
// record wins over inline data.
func (c *Cache) ResolveUser(ref models.UserRef) (models.User, bool) {
	if u, ok := c.User(ref.ID()); ok {
		return u, true
	}
	return ref.Inline()
}

// SetCurrentUser records the id of the authenticated user.
func (c *Cache) SetCurrentUser(id snowflake.Snowflake) {
	c.currentUser.Store(uint64(id))
}

// CurrentUserID returns the authenticated user's id, zero before READY.
func (c *Cache) CurrentUserID() snowflake.Snowflake {
	return snowflake.Snowflake(c.currentUser.Load())
}

// CurrentUser returns the authenticated user.
func (c *Cache) CurrentUser() (models.User, bool) {
	id := c.CurrentUserID()
	if id.IsZero() {
		return models.User{}, false
	}
	return c.User(id)
}

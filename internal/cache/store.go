package cache

import (
	"context"
	"strings"
	"time"

	"github.com/kjstillabower/aviation-weather-service/internal/models"
)

// Key identifies one cached report: a report kind for a normalized station.
type Key struct {
	Kind    models.ReportKind
	Station string
}

// NewKey normalizes station (trim, upper-case) and pairs it with kind.
func NewKey(kind models.ReportKind, station string) Key {
	return Key{Kind: kind, Station: strings.ToUpper(strings.TrimSpace(station))}
}

// String renders the key as "metar:KAUS". Shared backends use it as the item key.
func (k Key) String() string {
	return string(k.Kind) + ":" + k.Station
}

// Entry is the last successfully retrieved report for a Key.
type Entry struct {
	Kind      models.ReportKind `json:"kind"`
	Station   string            `json:"station"`
	Text      string            `json:"text"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// Key returns the cache key the entry is stored under.
func (e Entry) Key() Key {
	return NewKey(e.Kind, e.Station)
}

// Age is how long ago the entry was fetched, relative to now. Never negative.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Report converts the entry into the report it caches.
func (e Entry) Report() models.Report {
	return models.Report{Station: e.Station, Kind: e.Kind, Text: e.Text, FetchedAt: e.FetchedAt}
}

// Store holds the last good report per key.
// Stores never expire entries on a freshness TTL: stale entries must remain available
// for fallback, and freshness is decided by the caller. Put replaces an entry whole.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Clear(ctx context.Context) error
}

// Pinger is implemented by stores backed by a remote server. Used for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Package cache memoizes provider rates and finished quotes in two tiers: a
// process-local tier that lives for one evaluation pass and an optional
// cross-request tier backed by a session store.
package cache

import (
	"context"
	"encoding/json"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Kind separates rate entries from quote entries.
type Kind string

const (
	KindRates  Kind = "rates"
	KindQuotes Kind = "quotes"
)

// Tier names used in measurements.
const (
	TierLocal   = "local"
	TierSession = "session"
)

// SessionStore persists entries across requests for one user session.
// Concurrent writers for the same session are not coordinated; the last
// write wins.
type SessionStore interface {
	Load(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Save(ctx context.Context, sessionID, key string, payload []byte) error
}

// Dropper is implemented by session stores that can forget a whole session.
type Dropper interface {
	Drop(ctx context.Context, sessionID string) error
}

// Observer receives lookup outcomes.
type Observer interface {
	CacheLookup(kind, tier string, hit bool)
}

// Options configures a Layer.
type Options struct {
	// Session enables the cross-request tier when set together with SessionID.
	Session   SessionStore
	SessionID string
	// SessionKinds lists the entry kinds written to the cross-request tier.
	// Defaults to rates only.
	SessionKinds []Kind
	Logger       *otelzap.Logger
	Observer     Observer
}

// Layer is the cache for one evaluation pass. It is not safe for concurrent
// use; a pass is processed by a single goroutine.
type Layer struct {
	local        map[string]any
	session      SessionStore
	sessionID    string
	sessionKinds map[Kind]bool
	logger       *otelzap.Logger
	observer     Observer
}

// NewLayer creates a cache layer.
func NewLayer(opts Options) *Layer {
	kinds := opts.SessionKinds
	if len(kinds) == 0 {
		kinds = []Kind{KindRates}
	}
	l := &Layer{
		local:        make(map[string]any),
		sessionKinds: make(map[Kind]bool, len(kinds)),
		logger:       opts.Logger,
		observer:     opts.Observer,
	}
	if opts.Session != nil && opts.SessionID != "" {
		l.session = opts.Session
		l.sessionID = opts.SessionID
		for _, k := range kinds {
			l.sessionKinds[k] = true
		}
	}
	if l.logger == nil {
		l.logger = otelzap.New(zap.NewNop())
	}
	return l
}

// CrossRequest reports whether the cross-request tier is active.
func (l *Layer) CrossRequest() bool {
	return l.session != nil
}

// Len returns the number of process-local entries.
func (l *Layer) Len() int {
	return len(l.local)
}

func entryKey(kind Kind, optionID, key string) string {
	return string(kind) + "/" + optionID + "/" + key
}

func (l *Layer) observe(kind Kind, tier string, hit bool) {
	if l.observer != nil {
		l.observer.CacheLookup(string(kind), tier, hit)
	}
}

// Get looks an entry up, local tier first. Unreadable cross-request payloads
// count as misses.
func Get[T any](ctx context.Context, l *Layer, kind Kind, optionID, key string) (T, bool) {
	var zero T
	k := entryKey(kind, optionID, key)

	if v, ok := l.local[k]; ok {
		if typed, ok := v.(T); ok {
			l.observe(kind, TierLocal, true)
			return typed, true
		}
	}
	l.observe(kind, TierLocal, false)

	if l.session == nil || !l.sessionKinds[kind] {
		return zero, false
	}

	payload, ok, err := l.session.Load(ctx, l.sessionID, k)
	if err != nil {
		l.logger.Warn("Session cache load failed",
			zap.String("option_id", optionID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		l.observe(kind, TierSession, false)
		return zero, false
	}
	if !ok {
		l.observe(kind, TierSession, false)
		return zero, false
	}

	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		l.logger.Debug("Discarding unreadable session cache entry",
			zap.String("option_id", optionID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		l.observe(kind, TierSession, false)
		return zero, false
	}

	l.observe(kind, TierSession, true)
	l.local[k] = value
	return value, true
}

// Put stores an entry in the local tier and, for enabled kinds, in the
// cross-request tier. A failed session write is logged and otherwise ignored.
func Put[T any](ctx context.Context, l *Layer, kind Kind, optionID, key string, value T) {
	k := entryKey(kind, optionID, key)
	l.local[k] = value

	if l.session == nil || !l.sessionKinds[kind] {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		l.logger.Warn("Encoding session cache entry failed",
			zap.String("option_id", optionID),
			zap.Error(err),
		)
		return
	}
	if err := l.session.Save(ctx, l.sessionID, k, payload); err != nil {
		l.logger.Warn("Session cache save failed",
			zap.String("option_id", optionID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

package storage

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Chain ist die geordnete Liste von Scopes, die für einen logischen Schlüssel probiert wird.
type Chain []Scope

var (
	LocalThenShared = Chain{ScopeLocal, ScopeShared}
	SharedThenLocal = Chain{ScopeShared, ScopeLocal}
)

// Source bindet einen Schlüssel an seine Fallback-Kette.
type Source struct {
	Key   string
	Chain Chain
}

// ReadFirst liefert den ersten vorhandenen und dekodierbaren Wert entlang der Kette.
// Lesefehler und Dekodierfehler zählen als "nicht vorhanden".
func ReadFirst[T any](ctx context.Context, u *Unified, src Source) (T, Scope, bool) {
	var zero T
	for _, scope := range src.Chain {
		raw, ok, err := u.Read(ctx, scope, src.Key)
		if err != nil {
			u.logger.Debug("Fallback source not readable",
				zap.String("key", src.Key), zap.String("scope", string(scope)), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			u.logger.Warn("Fallback source not decodable, treating as absent",
				zap.String("key", src.Key), zap.String("scope", string(scope)), zap.Error(err))
			continue
		}
		return out, scope, true
	}
	return zero, "", false
}

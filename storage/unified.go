package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Unified ist die Fassade über den lokalen und den geteilten Scope.
type Unified struct {
	local   Backend
	shared  Backend
	timeout time.Duration
	logger  *zap.Logger
}

// NewUnified erstellt die Fassade. shared darf nil sein; dann ist der geteilte Scope nicht
// verfügbar. stepTimeout begrenzt jeden Aufruf auf dem geteilten Scope.
func NewUnified(local, shared Backend, stepTimeout time.Duration, logger *zap.Logger) *Unified {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unified{
		local:   local,
		shared:  shared,
		timeout: stepTimeout,
		logger:  logger.With(zap.String("component", "unified_storage")),
	}
}

// SharedAvailable meldet, ob ein geteilter Scope konfiguriert ist.
func (u *Unified) SharedAvailable() bool {
	return u.shared != nil
}

// Shared gibt das Backend des geteilten Scopes zurück (nil wenn nicht verfügbar).
func (u *Unified) Shared() Backend {
	return u.shared
}

// call führt fn auf dem Backend des Scopes aus. Aufrufe auf dem geteilten Scope werden durch
// das Step-Timeout begrenzt, auch wenn das Backend den Context ignoriert.
func (u *Unified) call(ctx context.Context, scope Scope, fn func(ctx context.Context, b Backend) error) error {
	switch scope {
	case ScopeLocal:
		return fn(ctx, u.local)
	case ScopeShared:
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}
	if u.shared == nil {
		return ErrUnavailable
	}
	if u.timeout <= 0 {
		return fn(ctx, u.shared)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx, u.shared) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shared scope: %w", ctx.Err())
	}
}

func (u *Unified) Write(ctx context.Context, scope Scope, key string, value []byte) error {
	return u.call(ctx, scope, func(ctx context.Context, b Backend) error {
		return b.Set(ctx, key, value)
	})
}

// Read liefert den Wert und ob er existiert.
func (u *Unified) Read(ctx context.Context, scope Scope, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := u.call(ctx, scope, func(ctx context.Context, b Backend) error {
		var err error
		value, found, err = b.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (u *Unified) Remove(ctx context.Context, scope Scope, key string) error {
	return u.call(ctx, scope, func(ctx context.Context, b Backend) error {
		return b.Remove(ctx, key)
	})
}

// ListKeys listet die bekannten Schlüssel eines Scopes (Diagnose).
func (u *Unified) ListKeys(ctx context.Context, scope Scope) ([]string, error) {
	var keys []string
	err := u.call(ctx, scope, func(ctx context.Context, b Backend) error {
		var err error
		keys, err = b.Keys(ctx)
		return err
	})
	return keys, err
}

// WriteMirrored schreibt zuerst lokal, dann in den geteilten Scope. Ein nicht verfügbarer
// geteilter Scope ist kein Fehler.
func (u *Unified) WriteMirrored(ctx context.Context, key string, value []byte) error {
	if err := u.Write(ctx, ScopeLocal, key, value); err != nil {
		return fmt.Errorf("write %s to local scope: %w", key, err)
	}
	return u.mirror(u.Write(ctx, ScopeShared, key, value), "write", key)
}

// RemoveMirrored entfernt den Schlüssel in beiden Scopes.
func (u *Unified) RemoveMirrored(ctx context.Context, key string) error {
	if err := u.Remove(ctx, ScopeLocal, key); err != nil {
		return fmt.Errorf("remove %s from local scope: %w", key, err)
	}
	return u.mirror(u.Remove(ctx, ScopeShared, key), "remove", key)
}

func (u *Unified) mirror(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		u.logger.Debug("Shared scope unavailable, skipping mirror", zap.String("op", op), zap.String("key", key))
		return nil
	}
	return fmt.Errorf("%s %s to shared scope: %w", op, key, err)
}

// WriteJSON kodiert v kanonisch und schreibt in den Scope.
func (u *Unified) WriteJSON(ctx context.Context, scope Scope, key string, v any) error {
	raw, err := EncodeCanonical(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return u.Write(ctx, scope, key, raw)
}

// WriteJSONMirrored kodiert v kanonisch und schreibt in beide Scopes.
func (u *Unified) WriteJSONMirrored(ctx context.Context, key string, v any) error {
	raw, err := EncodeCanonical(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return u.WriteMirrored(ctx, key, raw)
}

// ReadJSON dekodiert den Wert in out. Gibt false zurück, wenn der Schlüssel fehlt.
func (u *Unified) ReadJSON(ctx context.Context, scope Scope, key string, out any) (bool, error) {
	raw, ok, err := u.Read(ctx, scope, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// ValidateConsistency vergleicht jeden Schlüssel zwischen lokalem und geteiltem Scope.
// Fehlt der Schlüssel in beiden Scopes, gilt er als konsistent. Ist der geteilte Scope nicht
// erreichbar, gibt es für den Schlüssel kein Urteil und er fehlt im Ergebnis.
func (u *Unified) ValidateConsistency(ctx context.Context, keys []string) map[string]bool {
	report := make(map[string]bool, len(keys))
	for _, key := range keys {
		local, localOK, err := u.Read(ctx, ScopeLocal, key)
		if err != nil {
			u.logger.Warn("Consistency check: local read failed", zap.String("key", key), zap.Error(err))
			report[key] = false
			continue
		}
		shared, sharedOK, err := u.Read(ctx, ScopeShared, key)
		if errors.Is(err, ErrUnavailable) {
			continue
		}
		if err != nil {
			u.logger.Warn("Consistency check: shared read failed", zap.String("key", key), zap.Error(err))
			report[key] = false
			continue
		}

		switch {
		case !localOK && !sharedOK:
			report[key] = true
		case localOK != sharedOK:
			report[key] = false
		default:
			report[key] = Equivalent(local, shared)
		}
	}
	return report
}

// SyncMirrored schreibt value nur in die Scopes, deren Inhalt sich kanonisch unterscheidet.
// Gleiche Inhalte lösen so keine Änderungsereignisse beim geteilten Scope aus.
func (u *Unified) SyncMirrored(ctx context.Context, key string, value []byte) (bool, error) {
	changed := false

	current, ok, err := u.Read(ctx, ScopeLocal, key)
	if err != nil {
		return false, fmt.Errorf("read %s from local scope: %w", key, err)
	}
	if !ok || !Equivalent(current, value) {
		if err := u.Write(ctx, ScopeLocal, key, value); err != nil {
			return false, fmt.Errorf("write %s to local scope: %w", key, err)
		}
		changed = true
	}

	current, ok, err = u.Read(ctx, ScopeShared, key)
	if err != nil {
		return changed, u.mirror(err, "read", key)
	}
	if ok && Equivalent(current, value) {
		return changed, nil
	}
	if err := u.mirror(u.Write(ctx, ScopeShared, key, value), "write", key); err != nil {
		return changed, err
	}
	return true, nil
}

// SyncJSONMirrored ist SyncMirrored mit kanonischer Kodierung.
func (u *Unified) SyncJSONMirrored(ctx context.Context, key string, v any) (bool, error) {
	raw, err := EncodeCanonical(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	return u.SyncMirrored(ctx, key, raw)
}

// Package storage implementiert den Unified-Storage-Layer: eine Key-Value-Fassade über einen
// prozesslokalen und einen geteilten Scope.
//
// Der geteilte Scope ist für alle kooperierenden Prozesse (Hauptanwendung, Widget,
// File-Extension) erreichbar und kann fehlen. In diesem Fall sind alle Operationen auf dem
// geteilten Scope No-ops, die ErrUnavailable melden; der lokale Betrieb läuft weiter.
package storage

import (
	"context"
	"errors"
)

// Scope wählt den physischen Speicherort.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeShared Scope = "shared"
)

// ErrUnavailable meldet, dass der geteilte Scope nicht erreichbar ist (z.B. fehlende Berechtigung).
var ErrUnavailable = errors.New("shared scope unavailable")

// Backend ist ein opaker Key-Value-Speicher.
type Backend interface {
	// Get liefert den Wert und ob der Schlüssel existiert.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove ist für unbekannte Schlüssel ein No-op.
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// ChangeNotifier wird von Backends implementiert, die fremde Schreibzugriffe melden können.
type ChangeNotifier interface {
	// Watch ruft handler mit den geänderten Schlüsseln auf, bis ctx beendet ist.
	Watch(ctx context.Context, handler func(keys []string)) error
}

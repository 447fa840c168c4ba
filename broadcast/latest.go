// Package broadcast stellt einen "latest value"-Kanal mit einem Produzenten und beliebig
// vielen Konsumenten bereit.
//
// Ein Abonnent erhält beim Subscribe den aktuellen Wert und danach jede Ersetzung. Jeder
// Abonnent besitzt einen Puffer der Größe eins: ein langsamer Konsument verpasst
// Zwischenwerte, sieht aber immer den neuesten. Publish blockiert nie.
package broadcast

import "sync"

// Latest hält den zuletzt veröffentlichten Wert vom Typ T.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewLatest erstellt einen Kanal mit Startwert initial.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Load gibt den aktuellen Wert zurück.
func (l *Latest[T]) Load() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Publish ersetzt den aktuellen Wert und benachrichtigt alle Abonnenten.
func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.value = v
	for _, ch := range l.subs {
		offer(ch, v)
	}
}

// Subscribe liefert einen Kanal, der sofort den aktuellen Wert enthält. cancel schließt den
// Kanal und ist mehrfach aufrufbar.
func (l *Latest[T]) Subscribe() (<-chan T, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan T, 1)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	ch <- l.value

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if _, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close beendet alle Abonnements. Spätere Publish-Aufrufe sind No-ops.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// offer legt v in den Puffer und verdrängt dabei einen noch nicht gelesenen Wert.
// Muss unter l.mu aufgerufen werden, damit kein anderer Produzent dazwischenfunkt.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Package locker serialisiert Read-Modify-Write-Zugriffe auf dasselbe Objekt.
package locker

import (
	"context"
	"sync"
)

// Locker vergibt exklusive Sperren pro Schlüssel. unlock muss genau einmal aufgerufen werden.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex ist eine prozesslokale Sperre pro Schlüssel. Einträge werden entfernt,
// sobald niemand mehr auf den Schlüssel wartet.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch      chan struct{}
	waiters int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.waiters++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, e, true) })
	}, nil
}

func (k *KeyedMutex) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	k.mu.Lock()
	e.waiters--
	if e.waiters == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len liefert die Anzahl aktiver Schlüssel.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

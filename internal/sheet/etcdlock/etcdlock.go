// Package etcdlock implements sheet.Lock on etcd, for documents shared by
// processes on several hosts.
//
// Each lock holds its own lease for as long as it is held, so a crashed holder
// releases the lock when its lease expires.
package etcdlock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Locker creates locks under a key prefix.
type Locker struct {
	client *clientv3.Client
	prefix string
	ttl    int
}

// New returns a Locker storing its keys under prefix. ttl is the lease
// duration in seconds.
func New(client *clientv3.Client, prefix string, ttl int) *Locker {
	if ttl <= 0 {
		ttl = 60
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// Lock returns a handle on the named lock.
func (l *Locker) Lock(name string) sheet.Lock {
	return &mutex{l: l, name: name, key: path.Join(l.prefix, name)}
}

// Wrap returns doc with its locks replaced by etcd locks.
func Wrap(doc sheet.Document, l *Locker) sheet.Document {
	return &document{Document: doc, l: l}
}

type document struct {
	sheet.Document
	l *Locker
}

func (d *document) Lock(name string) sheet.Lock {
	return d.l.Lock(name)
}

// mutex is not safe for concurrent use; take one handle per holder.
type mutex struct {
	l       *Locker
	name    string
	key     string
	session *concurrency.Session
	m       *concurrency.Mutex
}

func (m *mutex) TryLock(ctx context.Context, wait time.Duration) (bool, error) {
	if m.session != nil {
		return false, fmt.Errorf("lock %s is already held by this handle", m.name)
	}
	s, err := concurrency.NewSession(m.l.client, concurrency.WithTTL(m.l.ttl), concurrency.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		return false, fmt.Errorf("failed to establish etcd lease: %w", err)
	}
	mu := concurrency.NewMutex(s, m.key)
	if wait <= 0 {
		err = mu.TryLock(ctx)
	} else {
		wctx, cancel := context.WithTimeout(ctx, wait)
		err = mu.Lock(wctx)
		cancel()
	}
	if err != nil {
		_ = s.Close()
		if errors.Is(err, concurrency.ErrLocked) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock %s: %w", m.key, err)
	}
	m.session, m.m = s, mu
	return true, nil
}

func (m *mutex) Unlock(ctx context.Context) error {
	if m.session == nil {
		return fmt.Errorf("lock %s is not held", m.name)
	}
	s, mu := m.session, m.m
	m.session, m.m = nil, nil
	return errors.Join(mu.Unlock(ctx), s.Close())
}

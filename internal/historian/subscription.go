// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package historian

import (
	"sync"
	"sync/atomic"

	"github.com/lulzzz/aika/pkg/schema"
)

// TagValueEvent is delivered to snapshot subscribers. Value is nil on
// the one-shot deletion event.
type TagValueEvent struct {
	TagID   string
	TagName string
	Value   *schema.TagValue
	Deleted bool
}

// Subscription is the handle returned by Tag.Subscribe. Close
// unsubscribes; a closed handle is inert. Handlers run synchronously
// on the snapshot writer's goroutine and must not block; slow
// consumers have to buffer on their side.
type Subscription struct {
	tag    *Tag
	id     int
	fn     func(TagValueEvent)
	closed atomic.Bool
}

func (s *Subscription) deliver(ev TagValueEvent) {
	if s.closed.Load() {
		return
	}
	s.fn(ev)
}

func (s *Subscription) markClosed() {
	s.closed.Store(true)
}

// Close removes the subscription from the tag. Safe to call multiple
// times and after tag deletion.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.tag.stateMu.Lock()
	delete(s.tag.subs, s.id)
	s.tag.stateMu.Unlock()
}

// Subscribe registers fn for every snapshot-accepted sample. The
// current snapshot, if any, is delivered synchronously before
// Subscribe returns, so a subscriber always knows the latest state.
func (t *Tag) Subscribe(fn func(TagValueEvent)) *Subscription {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.stateMu.Lock()
	if t.deleted {
		t.stateMu.Unlock()
		s := &Subscription{tag: t, fn: fn}
		s.markClosed()
		return s
	}
	s := &Subscription{tag: t, id: t.nextSub, fn: fn}
	t.nextSub++
	t.subs[s.id] = s
	snap := t.snapshot
	name := t.name
	t.stateMu.Unlock()

	if snap != nil {
		v := *snap
		s.deliver(TagValueEvent{TagID: t.id, TagName: name, Value: &v})
	}
	return s
}

// notify fans emitted samples out to all live subscribers. Runs with
// writeMu held so the delivered sequence matches the accepted one.
func (t *Tag) notify(emitted []schema.TagValue) {
	t.stateMu.RLock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	name := t.name
	t.stateMu.RUnlock()

	for _, v := range emitted {
		v := v
		ev := TagValueEvent{TagID: t.id, TagName: name, Value: &v}
		for _, s := range subs {
			s.deliver(ev)
		}
	}
}

// SubscriptionSession aggregates the per-tag subscriptions of one
// caller and fans all events into a single sink.
type SubscriptionSession struct {
	caller Caller

	mu   sync.Mutex
	subs []*Subscription
	done bool
}

func (s *SubscriptionSession) Caller() Caller { return s.caller }

// Close releases every subscription held by the session.
func (s *SubscriptionSession) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.done = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *SubscriptionSession) add(sub *Subscription) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

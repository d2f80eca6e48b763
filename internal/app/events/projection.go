package events

import "sync"

// projection is the ordered list of events last shown to one owner.
//
// While a store read is in flight, every local write is stamped in
// touched so the read can be merged instead of overwriting newer state.
type projection struct {
	order []string
	byID  map[string]Event

	version    uint64
	refreshing int
	touched    map[string]uint64
}

func newProjection() *projection {
	return &projection{byID: map[string]Event{}}
}

func (p *projection) snapshot() []Event {
	out := make([]Event, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

func (p *projection) replaceAll(events []Event) {
	p.order = make([]string, 0, len(events))
	p.byID = make(map[string]Event, len(events))
	for _, e := range events {
		if _, dup := p.byID[e.ID]; dup {
			continue
		}
		p.order = append(p.order, e.ID)
		p.byID[e.ID] = e
	}
}

// beginRefresh marks a store read as started and returns the version the
// read must be reconciled against.
func (p *projection) beginRefresh() uint64 {
	p.refreshing++
	return p.version
}

// endRefresh installs a store read started at since. Local writes made
// after since win over the read: removed ids stay removed, upserted ids
// keep their local value, and locally created ids are kept. A failed
// read passes ok=false and leaves the list alone.
func (p *projection) endRefresh(since uint64, events []Event, ok bool) {
	defer func() {
		p.refreshing--
		if p.refreshing == 0 {
			p.touched = nil
		}
	}()
	if !ok {
		return
	}
	if p.version == since {
		p.replaceAll(events)
		return
	}

	merged := make([]Event, 0, len(events)+len(p.order))
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		seen[e.ID] = true
		if p.touched[e.ID] <= since {
			merged = append(merged, e)
			continue
		}
		if local, ok := p.byID[e.ID]; ok {
			merged = append(merged, local)
		}
	}
	for _, id := range p.order {
		if !seen[id] && p.touched[id] > since {
			merged = append(merged, p.byID[id])
		}
	}
	p.replaceAll(merged)
}

func (p *projection) touch(id string) {
	p.version++
	if p.refreshing == 0 {
		return
	}
	if p.touched == nil {
		p.touched = map[string]uint64{}
	}
	p.touched[id] = p.version
}

// upsert replaces an event in place, or appends it when unknown.
func (p *projection) upsert(e Event) {
	p.touch(e.ID)
	if _, ok := p.byID[e.ID]; !ok {
		p.order = append(p.order, e.ID)
	}
	p.byID[e.ID] = e
}

// remove drops an event and reports where it was, or -1.
func (p *projection) remove(id string) (Event, int) {
	p.touch(id)
	e, ok := p.byID[id]
	if !ok {
		return Event{}, -1
	}
	delete(p.byID, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return e, i
		}
	}
	return e, -1
}

// restore puts a removed event back at its former index.
func (p *projection) restore(e Event, index int) {
	p.touch(e.ID)
	if _, ok := p.byID[e.ID]; ok {
		return
	}
	p.byID[e.ID] = e
	if index < 0 || index > len(p.order) {
		p.order = append(p.order, e.ID)
		return
	}
	p.order = append(p.order, "")
	copy(p.order[index+1:], p.order[index:])
	p.order[index] = e.ID
}

// projections holds one projection per owner; owners never share one.
type projections struct {
	mu     sync.Mutex
	owners map[string]*projection
}

func (ps *projections) with(ownerID string, fn func(p *projection)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.owners == nil {
		ps.owners = map[string]*projection{}
	}
	p := ps.owners[ownerID]
	if p == nil {
		p = newProjection()
		ps.owners[ownerID] = p
	}
	fn(p)
}

// keyedMutex serializes work on the same event id within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Package bridge implements the JSON boundary behind the exported C entry
// points: it owns the handle registry mapping opaque integer handles to
// live connections and renders every success or failure as a
// self-describing JSON payload.
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/lucaslimafernandes/pggo/pgwire"
)

// Registry maps opaque uint64 handles to live connections. Handles are
// allocated from an atomic counter so they are unique, monotonically
// increasing and never zero; lookups and removals are safe under
// concurrent callers. The registry only guards its own map: per-connection
// request ordering is enforced by the connection's Busy state, never here,
// so unrelated connections never serialize on each other.
type Registry struct {
	counter uint64
	table   sync.Map // uint64 -> *pgwire.Conn
}

// Register stores conn and returns its freshly allocated handle.
func (r *Registry) Register(conn *pgwire.Conn) uint64 {
	id := atomic.AddUint64(&r.counter, 1)
	r.table.Store(id, conn)
	return id
}

// Lookup resolves a handle to its live connection.
func (r *Registry) Lookup(handle uint64) (*pgwire.Conn, error) {
	v, ok := r.table.Load(handle)
	if !ok {
		return nil, pgwire.InvalidHandleErr(handle)
	}
	return v.(*pgwire.Conn), nil
}

// Remove invalidates a handle and returns the connection it referenced.
// Removing an unknown handle reports InvalidHandle, which is what a second
// close on the same handle observes.
func (r *Registry) Remove(handle uint64) (*pgwire.Conn, error) {
	v, ok := r.table.LoadAndDelete(handle)
	if !ok {
		return nil, pgwire.InvalidHandleErr(handle)
	}
	return v.(*pgwire.Conn), nil
}

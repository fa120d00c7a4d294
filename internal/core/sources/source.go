// Package sources implements the source registry (C4): the ordered,
// dynamically reorderable list of upstream fetchers per data type.
package sources

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/sawpanic/marketdata/internal/core/metrics"
	"github.com/sawpanic/marketdata/internal/core/quote"
)

// reliabilityPromoteMargin is how far ahead a source's success rate must
// run past the one in front of it before Reconcile promotes it a slot.
const reliabilityPromoteMargin = 0.10

// Source is an upstream fetcher for one data type, identified by a stable
// id. The fetcher owns its own HTTP client, parsing, and error
// classification (§6).
type Source interface {
	ID() string
	DataType() quote.DataType
	Fetch(ctx context.Context, symbol string) (quote.Quote, error)
	// DefaultPriority seeds the initial ordering; lower runs first.
	DefaultPriority() int
}

// Registry holds the current priority list per data type behind an
// atomic snapshot pointer (read-copy-update), so readers never block on
// the reorder task's single writer (§4.4, §5).
type Registry struct {
	bySource map[string]Source // keyed by "<dataType>|<id>"
	lists    map[quote.DataType]*atomic.Pointer[[]string]
}

func sourceKey(dt quote.DataType, id string) string {
	return fmt.Sprintf("%s|%s", dt, id)
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySource: make(map[string]Source),
		lists:    make(map[quote.DataType]*atomic.Pointer[[]string]),
	}
}

// Register adds src to its data type's priority list, sorted initially by
// DefaultPriority. Register is not safe to call concurrently with itself,
// and is intended for startup wiring before the registry is shared with
// readers/the reorder task.
func (r *Registry) Register(src Source) {
	dt := src.DataType()
	r.bySource[sourceKey(dt, src.ID())] = src

	ptr, ok := r.lists[dt]
	if !ok {
		ptr = &atomic.Pointer[[]string]{}
		r.lists[dt] = ptr
	}

	ids := make([]string, 0)
	if cur := ptr.Load(); cur != nil {
		ids = append(ids, (*cur)...)
	}
	ids = append(ids, src.ID())

	sort.SliceStable(ids, func(i, j int) bool {
		si := r.bySource[sourceKey(dt, ids[i])]
		sj := r.bySource[sourceKey(dt, ids[j])]
		return si.DefaultPriority() < sj.DefaultPriority()
	})
	ptr.Store(&ids)
}

// SourcesFor returns the current ordered list of sources for dt. Callers
// must not mutate the returned slice's backing Source lookups; it is a
// fresh copy safe to range over without locking.
func (r *Registry) SourcesFor(dt quote.DataType) []Source {
	ptr, ok := r.lists[dt]
	if !ok {
		return nil
	}
	idsPtr := ptr.Load()
	if idsPtr == nil {
		return nil
	}
	out := make([]Source, 0, len(*idsPtr))
	for _, id := range *idsPtr {
		if s, ok := r.bySource[sourceKey(dt, id)]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Reorder moves sourceID by delta positions (+1 promotes one slot toward
// the front, -1 demotes one slot back) in dt's priority list. It is the
// registry's single mutation path and must only be called by the C5
// reorder task — concurrent calls for the same dt race on last-write-wins,
// which is acceptable because each call only swaps adjacent elements.
func (r *Registry) Reorder(dt quote.DataType, sourceID string, delta int) {
	ptr, ok := r.lists[dt]
	if !ok {
		return
	}
	cur := ptr.Load()
	if cur == nil {
		return
	}
	ids := append([]string(nil), (*cur)...)

	idx := -1
	for i, id := range ids {
		if id == sourceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	switch {
	case delta > 0 && idx > 0:
		ids[idx-1], ids[idx] = ids[idx], ids[idx-1]
	case delta < 0 && idx < len(ids)-1:
		ids[idx+1], ids[idx] = ids[idx], ids[idx+1]
	default:
		return
	}
	ptr.Store(&ids)
}

// Reconcile walks dt's current source order and promotes a source whose
// recent success rate (from sink) beats the source immediately ahead of it
// by more than reliabilityPromoteMargin. It is the C5 reliability-driven
// reordering task, meant to be called once per scheduler tick; each call
// only swaps adjacent neighbors, so sustained outperformance takes several
// ticks to reach the front. Sources with no recorded attempts yet are left
// alone rather than promoted or demoted on no evidence.
func (r *Registry) Reconcile(dt quote.DataType, sink *metrics.Sink) {
	if sink == nil {
		return
	}
	srcs := r.SourcesFor(dt)
	for i := 0; i < len(srcs)-1; i++ {
		ahead, behind := srcs[i], srcs[i+1]
		aheadSummary := sink.Summarize(ahead.ID(), dt)
		behindSummary := sink.Summarize(behind.ID(), dt)
		if aheadSummary.Requests == 0 || behindSummary.Requests == 0 {
			continue
		}
		if behindSummary.SuccessRate > aheadSummary.SuccessRate+reliabilityPromoteMargin {
			r.Reorder(dt, behind.ID(), +1)
		}
	}
}

// DataTypes returns every data type with at least one registered source.
func (r *Registry) DataTypes() []quote.DataType {
	out := make([]quote.DataType, 0, len(r.lists))
	for dt := range r.lists {
		out = append(out, dt)
	}
	return out
}

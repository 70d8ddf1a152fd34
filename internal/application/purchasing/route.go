package purchasing

import (
	"github.com/entitlesync/engine/internal/domain/purchase"
)

// RouteKind classifies where purchases are sent
type RouteKind string

const (
	RouteNative      RouteKind = "native"
	RouteSimulated   RouteKind = "simulated"
	RouteUnsupported RouteKind = "unsupported"
)

// StoreRoute is the storefront purchases go to. It is chosen once when the
// coordinator is built.
type StoreRoute struct {
	kind   RouteKind
	store  purchase.StoreAdapter
	reason string
}

// NativeRoute sends purchases to the platform store
func NativeRoute(store purchase.StoreAdapter) StoreRoute {
	return StoreRoute{kind: RouteNative, store: store}
}

// SimulatedRoute sends purchases to a test store
func SimulatedRoute(store purchase.StoreAdapter) StoreRoute {
	return StoreRoute{kind: RouteSimulated, store: store}
}

// UnsupportedRoute fails every purchase, e.g. for API keys that cannot buy
func UnsupportedRoute(reason string) StoreRoute {
	return StoreRoute{kind: RouteUnsupported, reason: reason}
}

// Kind returns the route classification
func (r StoreRoute) Kind() RouteKind {
	if r.store == nil {
		return RouteUnsupported
	}
	return r.kind
}

// Package events implements a small in-process publish/subscribe broker for
// testbed lifecycle events: networks coming up and down, swarm membership
// changes, mesh peers connecting, rollbacks. Components publish through an
// optional broker reference; a nil broker drops events silently.
package events

package core

import "github.com/dkeye/roomcast/internal/domain"

// ActiveSession is what the session registry stores per room:
// either a peer session or a pull session.
type ActiveSession interface {
	Kind() domain.TransportKind
	Closed() bool
}

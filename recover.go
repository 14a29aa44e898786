package amqpcore

import (
	"runtime/debug"

	"github.com/pkg/errors"
)

// recoverLoop turns a panic in the reader or writer loop goroutine into a
// connection close whose error names the loop and the panic value, rather
// than a crashed process, the same
// guard packetd-packetd/internal/rescue.go wraps around its worker
// goroutines: count it, log the stack, and let the caller's close path
// run.
func (c *Connection) recoverLoop(loopName string) {
	if r := recover(); r != nil {
		c.stats.panics.Inc()
		c.log.Errorf("recovered panic in %s: %v\n%s", loopName, r, debug.Stack())
		c.closeWithError(errors.Errorf("amqpcore: panic in %s: %v", loopName, r))
	}
}

// Package audit carries the engine's security events (access denials,
// rate-limit rejections, sign-in outcomes and sign-outs) to a sink off the
// request path.
//
// A [Dispatcher] owns one goroutine and a bounded queue. When the queue is
// full it either drops the event and counts it or makes the caller wait,
// depending on [Config.DropIfFull]. A panicking [Sink] is logged and the
// worker keeps going.
//
// # What this package must NOT do
//
//   - Decide which events to emit; the Engine does.
//   - Import lexguard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit

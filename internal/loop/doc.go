// Package loop runs the server's single event loop.
//
// One goroutine owns a poller and dispatches readiness events to the
// callbacks registered with Watch. Deadlines are kept in a min-heap; each
// poll waits at most until the nearest one. Work from other goroutines
// enters through Post, which wakes the loop via an eventfd.
//
//	┌──────────────┐  Post(fn)   ┌──────────────────────────────┐
//	│ HTTP workers │ ──────────▶ │ loop goroutine               │
//	└──────────────┘   eventfd   │  run posted → Wait(nearest)  │
//	                             │  → dispatch events → timers  │
//	                             └──────────────────────────────┘
//
// Watch, Unwatch and After must be called from the loop goroutine (inside a
// callback or a posted function), or before Run starts.
package loop

// Package poller is a readiness-based event multiplexer over epoll.
//
// Callers register handles with an Interest set and receive a Token. Wait
// blocks for at most the given timeout and returns a lazy, finite sequence
// of Events:
//
//	tok, err := p.Register(h, poller.Readable, 0)
//	events, err := p.Wait(50 * time.Millisecond)
//	for ev := range events {
//		if ev.Token == tok && ev.Ready.Has(poller.Readable) {
//			...
//		}
//	}
//
// An empty sequence means the timeout elapsed. Registration is advisory:
// the poller never closes a handle, and Unregister is idempotent because
// closing a descriptor silently drops its kernel registration.
//
// Tokens carry a generation so a token that outlived its registration is
// recognized as stale even when the descriptor number was reused.
package poller

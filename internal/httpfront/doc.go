// Package httpfront is the HTTP side of the gateway.
//
// Requests arrive on net/http goroutines. Each one is matched against the
// route table, its body read (bounded by the route's limit), and handed to
// the event loop with Post. The handler then waits for the invocation's
// outcome and writes either the script's response or a 5xx.
//
//	net/http goroutine            loop goroutine
//	------------------            --------------
//	Match, read body
//	Post(start) ───────────────▶  gateway.Start
//	                              readiness events ...
//	<-outcome  ◀────────────────  done(resp, err)
//	write response
//
// GET /-/status lists the live children.
package httpfront

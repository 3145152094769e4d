// Package gateway runs CGI and WSGI style scripts on behalf of HTTP requests.
//
// One invocation builds the meta-variable environment for a request, spawns
// the script with its stdin and stdout attached to pipes, streams the
// request body in, collects the output and parses it into a Response:
//
//	Idle -> EnvironmentBuilt -> Spawned -> StreamingBody -> AwaitingOutput
//	                                                          |
//	                                 Completed | Failed | TimedOut
//
// Every step after the spawn is driven by descriptor readiness. Start hooks
// the invocation into a loop.Loop, so many invocations share the server's
// single event loop. Run drives one invocation to completion on a
// caller-supplied poller.
//
// Whatever the outcome, the child is killed if it may still be alive,
// reaped, and every descriptor is closed before the result is reported.
// Failures wrap one of the Err* sentinels; StatusCode maps them to 502 or
// 504.
package gateway

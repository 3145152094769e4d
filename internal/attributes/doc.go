// Package attributes evaluates route-configured expressions against a
// gateway request.
//
// Expressions use the expr language and see the request as:
//
//	method       string            request method
//	path         string            target path
//	query        string            raw query string
//	header       map[string]string canonical header name -> joined values
//	remote_addr  string            peer host:port
//	script       string            script path
//	route        string            route name
//
// Evaluator turns NAME: expression pairs into extra meta-variables. A map
// result expands into one NAME_KEY variable per entry.
//
// TraceIDEvaluator and ParentIDEvaluator derive the parent of the
// invocation span, so scripts called with a correlation header land in the
// caller's trace. Invalid trace IDs are hashed with SHA-256 into valid
// ones; invalid parent IDs are replaced with a fresh span ID.
package attributes

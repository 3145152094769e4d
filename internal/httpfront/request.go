package httpfront

import (
	"net/http"
	"sort"
	"strings"

	"github.com/mrzor/gatewayd/internal/gateway"
)

// toRequest converts an incoming request. net/http does not keep header
// order, so fields follow the canonical names in sorted order, each name's
// values in arrival order. Host comes first.
func toRequest(r *http.Request, method gateway.Method, body []byte) *gateway.Request {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]gateway.Field, 0, len(r.Header)+1)
	if r.Host != "" {
		fields = append(fields, gateway.Field{Name: "Host", Value: r.Host})
	}
	for _, name := range names {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range r.Header[name] {
			fields = append(fields, gateway.Field{Name: name, Value: v})
		}
	}

	target := r.RequestURI
	if !strings.HasPrefix(target, "/") {
		target = r.URL.RequestURI()
	}

	return &gateway.Request{
		Method:     method,
		Target:     target,
		Proto:      r.Proto,
		Host:       r.Host,
		Header:     fields,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
	}
}

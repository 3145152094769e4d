package attributes

import (
	"net/http"

	"github.com/mrzor/gatewayd/internal/gateway"
)

// exprEnv declares the expression environment for type checking.
var exprEnv = map[string]interface{}{
	"method":      "",
	"path":        "",
	"query":       "",
	"header":      map[string]string{},
	"remote_addr": "",
	"script":      "",
	"route":       "",
}

func requestEnv(req *gateway.Request, script *gateway.Script) map[string]interface{} {
	header := make(map[string]string, len(req.Header))
	for _, f := range req.Header {
		key := http.CanonicalHeaderKey(f.Name)
		if prev, ok := header[key]; ok {
			header[key] = prev + ", " + f.Value
			continue
		}
		header[key] = f.Value
	}
	return map[string]interface{}{
		"method":      req.Method.String(),
		"path":        req.Path(),
		"query":       req.Query(),
		"header":      header,
		"remote_addr": req.RemoteAddr,
		"script":      script.Path,
		"route":       script.Route,
	}
}

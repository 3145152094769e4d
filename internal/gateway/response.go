package gateway

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

// Response is a parsed script output.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// ParseResponse splits script output into header block and body. The
// header block ends at the first CRLFCRLF, or failing that the first LFLF;
// output without either is all body. The Status header sets the status code
// from its leading digits and is not copied; a missing or unparsable status
// yields 200.
func ParseResponse(out []byte) *Response {
	resp := &Response{
		Status: http.StatusOK,
		Header: make(http.Header),
	}

	var head []byte
	if i := bytes.Index(out, crlfcrlf); i >= 0 {
		head, resp.Body = out[:i], out[i+len(crlfcrlf):]
	} else if i := bytes.Index(out, lflf); i >= 0 {
		head, resp.Body = out[:i], out[i+len(lflf):]
	} else {
		resp.Body = out
		return resp
	}

	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSuffix(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimLeft(value, " \t")
		if strings.EqualFold(name, "Status") {
			if code, ok := leadingStatus(value); ok {
				resp.Status = code
			}
			continue
		}
		resp.Header.Set(name, value)
	}
	return resp
}

func leadingStatus(value string) (int, bool) {
	end := 0
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(value[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}

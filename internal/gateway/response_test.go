package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		status  int
		headers map[string]string
		body    string
	}{
		{
			name:    "status and header",
			out:     "Status: 404 Not Found\r\nX-A: b\r\n\r\nnope",
			status:  http.StatusNotFound,
			headers: map[string]string{"X-A": "b"},
			body:    "nope",
		},
		{
			name:   "no separator is all body",
			out:    "just text",
			status: http.StatusOK,
			body:   "just text",
		},
		{
			name:    "bare newlines",
			out:     "Content-Type: text/plain\n\nhi\n",
			status:  http.StatusOK,
			headers: map[string]string{"Content-Type": "text/plain"},
			body:    "hi\n",
		},
		{
			name:   "crlf separator takes precedence",
			out:    "A: 1\r\n\r\nbody\n\nmore",
			status: http.StatusOK,
			headers: map[string]string{
				"A": "1",
			},
			body: "body\n\nmore",
		},
		{
			name:   "unparsable status defaults to 200",
			out:    "Status: notanumber\r\n\r\n",
			status: http.StatusOK,
		},
		{
			name:   "status name is case-insensitive",
			out:    "status: 302\r\nLocation: /x\r\n\r\n",
			status: http.StatusFound,
			headers: map[string]string{
				"Location": "/x",
			},
		},
		{
			name:    "last header wins and values are left-trimmed",
			out:     "X-Dup: one\r\nx-dup:   two \r\n\r\n",
			status:  http.StatusOK,
			headers: map[string]string{"X-Dup": "two "},
		},
		{
			name:    "lines without a colon are ignored",
			out:     "garbage\r\nX-Ok: yes\r\n\r\n",
			status:  http.StatusOK,
			headers: map[string]string{"X-Ok": "yes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ParseResponse([]byte(tt.out))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.body, string(resp.Body))
			assert.Len(t, resp.Header, len(tt.headers))
			for k, v := range tt.headers {
				assert.Equal(t, v, resp.Header.Get(k), k)
			}
			assert.Empty(t, resp.Header.Get("Status"))
		})
	}
}

func TestLeadingStatus(t *testing.T) {
	code, ok := leadingStatus("201 Created")
	assert.True(t, ok)
	assert.Equal(t, 201, code)

	_, ok = leadingStatus("abc")
	assert.False(t, ok)

	_, ok = leadingStatus("99999999999999999999999")
	assert.False(t, ok, "overflow is a parse failure")
}

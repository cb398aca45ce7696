package pipeline

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequest_Curl(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Request
		want  string
	}{
		{
			name:  "given plain get, then no method flag",
			build: func() *Request { return NewRequest(http.MethodGet, "http://example.com/c1?comp=list") },
			want:  "curl 'http://example.com/c1?comp=list'",
		},
		{
			name: "given put with headers and body, then sorted headers and quoted body",
			build: func() *Request {
				req := NewRequest(http.MethodPut, "http://example.com/c1/b1")
				req.Header.Set("X-Ms-Meta-Owner", "alice")
				req.Header.Set("Content-Type", "text/plain")
				req.SetBody([]byte("it's"))
				return req
			},
			want: `curl -X PUT 'http://example.com/c1/b1' -H 'Content-Type: text/plain' -H 'X-Ms-Meta-Owner: alice' -d 'it'\''s'`,
		},
		{
			name: "given credentials, then they are masked",
			build: func() *Request {
				req := NewRequest(http.MethodGet, "http://example.com/")
				req.Header.Set("Authorization", "Bearer secret")
				return req
			},
			want: "curl 'http://example.com/' -H 'Authorization: ***'",
		},
		{
			name: "given streaming body, then stream is not read",
			build: func() *Request {
				req := NewRequest(http.MethodPost, "http://example.com/")
				req.SetBodyStream(strings.NewReader("data"))
				return req
			},
			want: "curl -X POST 'http://example.com/' --data-binary @-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.build()
			assert.Equal(t, tt.want, req.Curl())
			if req.stream != nil {
				assert.Equal(t, int64(-1), req.ContentLength())
			}
		})
	}
}

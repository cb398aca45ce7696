package pipeline

import (
	"net/http"
	"sort"
	"strings"
)

// redactedHeaders are masked by Curl.
var redactedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
}

// Curl renders the request as a curl command line for reproducing it from a
// shell. Credentials are masked and headers are sorted. A streaming body is
// rendered as @- so the stream is never consumed.
//
//	curl -X PUT 'https://acct.blob.core.windows.net/c1/b1' \
//	  -H 'Authorization: ***' -H 'Content-Type: text/plain' -d 'hello'
func (r *Request) Curl() string {
	parts := []string{"curl"}
	if r.Method != "" && r.Method != http.MethodGet {
		parts = append(parts, "-X", r.Method)
	}
	parts = append(parts, shellQuote(r.URL))

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range r.Header[k] {
			if redactedHeaders[http.CanonicalHeaderKey(k)] {
				v = "***"
			}
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	switch {
	case r.stream != nil:
		parts = append(parts, "--data-binary", "@-")
	case len(r.body) > 0:
		parts = append(parts, "-d", shellQuote(string(r.body)))
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

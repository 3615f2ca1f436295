package httpsource

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mailru/easyjson/jlexer"
)

// ParseHeaders reads a JSON object of request headers.
// A value is either a string or an array of strings:
//
//	{"Authorization": "Bearer x", "Accept": ["a/b", "c/d"]}
func ParseHeaders(b []byte) (http.Header, error) {
	h := http.Header{}
	in := jlexer.Lexer{Data: b}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()

		if in.IsDelim('[') {
			in.Delim('[')
			for !in.IsDelim(']') {
				h.Add(key, in.String())
				in.WantComma()
			}
			in.Delim(']')
		} else {
			h.Add(key, in.String())
		}

		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	return h, nil
}

// ParseHeaderLines parses "Name: value" pairs as given on the command line.
func ParseHeaderLines(lines []string) (http.Header, error) {
	h := http.Header{}
	for _, l := range lines {
		k, v, ok := strings.Cut(l, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed header %q", l)
		}
		h.Add(k, strings.TrimSpace(v))
	}
	return h, nil
}

package httpsource

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	h, err := ParseHeaders([]byte(`{"authorization": "Bearer x", "Accept": ["a/b", "c/d"], "X-Empty": []}`))
	require.NoError(t, err)
	a.Equal(http.Header{
		"Authorization": {"Bearer x"},
		"Accept":        {"a/b", "c/d"},
	}, h)

	h, err = ParseHeaders([]byte(`{}`))
	require.NoError(t, err)
	a.Empty(h)

	for _, in := range []string{``, `[]`, `{"a": 1}`, `{"a": "b"`, `{"a": "b"} x`} {
		_, err = ParseHeaders([]byte(in))
		a.Error(err, in)
	}
}

func TestParseHeaderLines(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	h, err := ParseHeaderLines([]string{"x-token: abc", "Accept:a/b", "Accept: c/d:e"})
	require.NoError(t, err)
	a.Equal(http.Header{
		"X-Token": {"abc"},
		"Accept":  {"a/b", "c/d:e"},
	}, h)

	_, err = ParseHeaderLines([]string{"no colon"})
	a.Error(err)
	_, err = ParseHeaderLines([]string{": value"})
	a.Error(err)
}

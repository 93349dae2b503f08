package metastore

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ContinuationToken is an opaque cursor encoding the sort key of the last
// row a browse returned. An empty token means "start at the beginning". A
// browse returning an empty page returns an empty token; callers stop
// iterating as soon as they observe an empty result.
type ContinuationToken string

// NewContinuationToken encodes the given sort-key fields into an opaque token.
func NewContinuationToken(fields ...string) ContinuationToken {
	joined := strings.Join(fields, "\x00")
	return ContinuationToken(base64.RawURLEncoding.EncodeToString([]byte(joined)))
}

// Fields decodes the token back into its sort-key fields. The expected count
// guards against tokens minted by a differently-keyed browse.
func (t ContinuationToken) Fields(expected int) ([]string, error) {
	if t == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(t))
	if err != nil {
		return nil, fmt.Errorf("invalid continuation token: %w", err)
	}
	fields := strings.Split(string(raw), "\x00")
	if len(fields) != expected {
		return nil, fmt.Errorf("invalid continuation token: expected %d fields, got %d", expected, len(fields))
	}
	return fields, nil
}

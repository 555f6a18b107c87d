// Package token static per-RPC credentials for the StringDB service.
package token

import (
	"context"
)

// Tokens attaches a static bearer token to every call. An empty token sends
// no metadata, matching a server with auth disabled.
type Tokens struct {
	Token string
}

func (t *Tokens) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if t.Token == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + t.Token}, nil
}

func (t *Tokens) RequireTransportSecurity() bool {
	return false
}

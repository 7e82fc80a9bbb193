package api

import (
	"net/http"
	"strings"
)

// DefaultIdentityHeader carries the account id resolved by the authentication layer in
// front of this service.
const DefaultIdentityHeader = "X-Account-ID"

// Identity resolves the opaque account id of a request, empty for guests.
type Identity func(r *http.Request) string

func HeaderIdentity(header string) Identity {
	if header == "" {
		header = DefaultIdentityHeader
	}

	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

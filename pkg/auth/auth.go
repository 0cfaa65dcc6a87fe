package auth

import "net/http"

// Authenticator is the minimal interface handlers depend on.
type Authenticator interface {
	// Authenticate returns the token claims and true when the request is authenticated.
	// Claims is a plain map so handlers don't need the jwt dependency.
	Authenticate(r *http.Request) (claims map[string]interface{}, ok bool)
}

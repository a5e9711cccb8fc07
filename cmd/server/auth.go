package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig protects the API. Basic auth is used if a password is set,
// else a bearer token if one is set. Without either the API is open.
type AuthConfig struct {
	Username string
	Password string
	Token    string
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (a AuthConfig) Valid(r *http.Request) bool {
	switch {
	case a.Password != "":
		username, password, ok := r.BasicAuth()
		return ok && equal(username, a.Username) && equal(password, a.Password)

	case a.Token != "":
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		return ok && scheme == "Bearer" && equal(token, a.Token)

	default:
		return true
	}
}

func (a AuthConfig) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Valid(r) {
			next.ServeHTTP(w, r)
			return
		}

		if a.Password != "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer realm="restricted"`)
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

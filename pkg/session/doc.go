// Package session resolves the caller's identity from the request cookies.
//
// The gate only ever calls Adapter.Read, which decodes a signed (and
// optionally encrypted) cookie locally. Write and Clear exist for the login
// and logout handlers of the upstream application and for tests.
package session

// Package csp generates per-request nonces and builds the
// Content-Security-Policy header that embeds them.
package csp

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// NonceBytes is the entropy of each nonce
	NonceBytes = 16

	// NonceHeader carries the nonce to the rendering application so it can
	// echo it into inline script tags.
	NonceHeader = "x-nonce"

	HeaderEnforce    = "Content-Security-Policy"
	HeaderReportOnly = "Content-Security-Policy-Report-Only"
)

// NonceFunc produces a fresh nonce
type NonceFunc func() (string, error)

// NewNonce returns NonceBytes of crypto/rand output, URL-safe base64 encoded
func NewNonce() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckRandom verifies the random source once at startup. A failure here is
// fatal: the gate cannot serve pages without nonces.
func CheckRandom() error {
	_, err := NewNonce()
	return err
}

// Policy describes how the CSP header is built
type Policy struct {
	// Development allows 'unsafe-eval' (hot reload) and drops
	// upgrade-insecure-requests so plain-http localhost works.
	Development bool
	ReportOnly  bool
	ReportURI   string
	ConnectSrc  []string
}

// HeaderName returns the enforcing or report-only header name
func (p Policy) HeaderName() string {
	if p.ReportOnly {
		return HeaderReportOnly
	}
	return HeaderEnforce
}

// Build returns the header value with nonce embedded in script-src and style-src
func (p Policy) Build(nonce string) string {
	scriptSrc := []string{"'self'", "'nonce-" + nonce + "'", "'strict-dynamic'"}
	if p.Development {
		scriptSrc = append(scriptSrc, "'unsafe-eval'")
	}

	connectSrc := append([]string{"'self'"}, p.ConnectSrc...)

	directives := []string{
		"default-src 'self'",
		"script-src " + strings.Join(scriptSrc, " "),
		"style-src 'self' 'nonce-" + nonce + "'",
		"img-src 'self' blob: data: https:",
		"font-src 'self' data:",
		"connect-src " + strings.Join(connectSrc, " "),
		"object-src 'none'",
		"base-uri 'self'",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}
	if !p.Development {
		directives = append(directives, "upgrade-insecure-requests")
	}
	if p.ReportURI != "" {
		directives = append(directives, "report-uri "+p.ReportURI)
	}

	return strings.Join(directives, "; ")
}

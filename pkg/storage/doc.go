// Package storage opens the gate's backing connections: the SQL database
// holding users, roles and portal grants, and the optional Redis client
// behind the distributed rate limiter.
package storage

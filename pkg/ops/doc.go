// Package ops serves the operator endpoints that live on the ops listener
// beside health and metrics: route classification lookups, access cache
// invalidation, rate limit resets and route table reloads. Every endpoint
// requires the scheduled-job bearer secret.
package ops

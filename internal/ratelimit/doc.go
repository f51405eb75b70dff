// Package ratelimit is an in-memory, per-client-address token bucket for
// the public listener. It bounds how fast a single address can pull
// manifests and archives; distributed load needs an upstream limiter.
package ratelimit

// Package ratelimit enforces multi-scope sliding-window quotas on
// outgoing notifications.
//
// Rules are scoped to global, user, channel or type, carry caps at one
// or more granularities (second/minute/hour/day) and are evaluated in
// priority order. A per-user adaptive layer shrinks the hourly budget
// when rolling engagement drops.
package ratelimit

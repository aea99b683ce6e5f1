// Package ratelimit holds the site's request admission controls.
//
// Two limiters live here:
//   - [WindowLimiter]: a sliding-window log per identity ("contact:203.0.113.5") that
//     admits at most N events per trailing window. This is what throttles the contact
//     and newsletter forms. [RedisWindow] is the same contract backed by redis for
//     deployments running more than one instance.
//   - [IPLimiter]: a token bucket per client IP wrapped as middleware in front of
//     every route, for basic flood protection.
//
// Both are advisory spam and abuse mitigation. In-memory state is lost on restart and
// is not shared between instances. Neither protects against distributed attacks; that
// belongs to an upstream WAF or CDN.
package ratelimit

package registry

// HubStats aggregates the occupancy of the gateway's bounded
// registries — the live numbers the ops dashboard (infra/tui) and the
// /stats admin endpoint poll.
type HubStats struct {
	Connections       Stats `json:"connections"`
	StreamingSessions Stats `json:"streaming_sessions"`
	Memberships       Stats `json:"memberships"`
	InFlightLoads     Stats `json:"inflight_loads"`
	RateLimitFallback int   `json:"rate_limit_fallback_len"`
}

// Snapshot aggregates every bounded registry's Stats() into one
// HubStats value.
func Snapshot(conns *ConnRegistry, streams *StreamRegistry, members *MembershipRegistry, inflight *InFlightRegistry, limiter *RateLimiter) HubStats {
	return HubStats{
		Connections:       conns.Stats(),
		StreamingSessions: streams.Stats(),
		Memberships:       members.Stats(),
		InFlightLoads:     inflight.Stats(),
		RateLimitFallback: limiter.FallbackLen(),
	}
}

// Package security provides the throttling primitives used by authguard:
// sliding-window and token-bucket limiters, the lockout tracker, identity
// scoping, client address extraction, background sweeping and audit logging.
//
// # Window Counter
//
// WindowCounter answers "has this key made MaxRequests requests in the last
// Window?" and records the request atomically with that check. Timestamps are
// compacted lazily on every access; keys with nothing left in the window are
// removed by Sweep.
//
//	general := security.NewWindowCounter(security.WindowConfig{
//	    Name:        "general",
//	    MaxRequests: 100,
//	    Window:      15 * time.Minute,
//	}, logger)
//
//	if adm := general.TryAdmit(security.AddressKey(ip), time.Now()); !adm.Admitted {
//	    // reject, retry after adm.RetryAfter
//	}
//
// # Lockout Tracker
//
// LockoutTracker turns consecutive authentication failures into escalating
// lockouts. With a threshold of 5 and an initial block of 5 minutes, failures
// 5-9 lock for 5 minutes, 10-14 for 10 minutes, 15-19 for 20 minutes and so
// on, capped at MaxBlockDuration. A success deletes the record.
//
// ## Identity Scopes
//
// Failures are fanned out to every scope a request carries (see ScopeKeys):
// the client address, the login identifier, and both combined. This lets the
// tracker block "this IP" independently from "this username".
//
// ## Memory Management
//
// Both trackers own their maps behind a single mutex. Sweeper runs Sweep on
// each of them periodically:
//   - window counters drop keys with no timestamps inside the window
//   - the lockout tracker drops records idle for FailureWindow with no active lockout
//   - token buckets drop keys idle for 30 minutes
//
// Window counters and token buckets are additionally bounded by an LRU cap.
// The lockout tracker is not, since evicting a lockout would lift it.
package security

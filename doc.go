// Package authguard throttles HTTP requests and locks out clients that keep
// failing authentication.
//
// A Guard combines three kinds of state:
//
//   - sliding-window ceilings per client address: a general ceiling for every
//     request and a stricter one for authentication endpoints
//   - an optional token bucket per login identifier on authentication endpoints
//   - failure records with escalating lockouts, tracked per address, per
//     identifier and per address+identifier pair
//
// Every authentication failure is fanned out to all scopes of the request, so
// rotating addresses does not escape an identifier lockout and rotating
// identifiers does not escape an address lockout. A success clears them all.
//
// Basic usage:
//
//	guard, err := authguard.New(&authguard.Config{
//		EnableAuditLogging: true,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	defer guard.Shutdown(context.Background())
//
//	h := authguard.NewHandler(guard, logger)
//	mux.Handle("/login", h.Protect(authguard.Auth, loginHandler))
//	mux.Handle("/", h.Protect(authguard.General, appHandler))
//
// Rejected requests receive 429 Too Many Requests with a Retry-After header
// and a JSON body:
//
//	{"status":"error","message":"Too many requests. Please try again later.","retryAfter":42}
//
// For authentication endpoints the handler reports the outcome written by the
// protected handler: by default 2xx counts as success, 401 and 403 as failure.
// Callers that do not use net/http can drive Guard.Check and Guard.OnOutcome
// directly.
//
// Expired state is reclaimed by a background sweep on its own schedule.
// Configuration can also be loaded from AUTHGUARD_* environment variables
// with LoadConfigFromEnv.
package authguard

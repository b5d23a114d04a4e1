// Package server provides HTTP routing, middleware, the OAuth callback and the read-only JSON API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// The [BasicRouter] implementation registers method-qualified [http.ServeMux] patterns, so
// "/analyses/{id}" wildcards are available through [http.Request.PathValue].
//
// [Middleware] runs in the order it was added. [Logging] and [Recover] are provided.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback. It validates the state parameter,
// exchanges the code for a token and sends the result through a channel. Only the first callback is
// processed. [AwaitCallback] runs a temporary server for the CLI login flow and stops it once a result
// arrives or the timeout passes.
//
// # Read API
//
// [APIHandler] serves stored analyses:
//
//	GET /health
//	GET /analyses/{id}
//	GET /analyses/{id}/breakdown
//	GET /analyses/{id}/details
//	GET /analyses/{id}/filtered?exclude=id1,id2
//	GET /users/{id}/analyses?limit=20
//
// Every response is an [Envelope]: {"status": "success", "data": ...} or
// {"status": "error", "error": "...", "timestamp": "..."}. Missing analyses are 404s.
package server

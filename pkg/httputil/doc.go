// Package httputil provides the JSON response helpers and middleware shared by
// the admin API.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, registry)
//	httputil.WriteNotFoundError(w, "plugin not found: foo")
//	httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, err, details)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil

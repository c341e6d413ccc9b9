// Package handlers contains the health checks and middleware used by the
// router's HTTP server.
//
// # Health Checks
//
// Named checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//
// # Admin Authentication
//
// Administrative endpoints take a bearer token. Only its bcrypt hash is
// configured:
//
//	auth := handlers.NewAdminTokenAuth(cfg.Server.AdminTokenHash)
//	protected := handlers.ChainHandler(h, auth.Middleware, handlers.SecurityHeadersMiddleware)
package handlers

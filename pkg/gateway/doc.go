// Package gateway implements the realtime connection core of Tide.
//
// A Gateway owns a registry of tenant namespaces. Clients dial a
// namespace path over WebSocket, pass the admission gate (see the auth
// package), and are wired with the builtin command handlers: room
// join/leave, health ping and room broadcast. Backend events reach
// connected clients through Broadcast, which is a safe no-op when the
// target namespace or room has no members.
//
// Two overlapping address spaces share one registry keyed by path:
// tenant-root paths ("/{tenant}") and application-scoped paths
// ("/{prefix}/{tenant}"). Admission is identical in both; only the log
// tag differs.
//
// Basic usage:
//
//	gw, err := gateway.New(authenticator, log)
//	if err != nil {
//	    log.Fatal("create gateway", zap.Error(err))
//	}
//
//	engine := gin.New()
//	engine.NoRoute(gw.Handler())
//
//	// backend fan-out
//	gw.Broadcast("/acme", "order:updated", payload, "kitchen")
//
//	// graceful shutdown
//	gw.Shutdown(ctx)
package gateway

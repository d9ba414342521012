/*
Package httpserver implements the HTTP bridge in front of the relay pipeline.

The bridge accepts commands from unsecured clients and hands them to the core
as external messages; it never signs or routes anything itself. Completed
results are published by the core to a response queue which clients poll.

# Bridge API Endpoints

  - POST /api/auth/token - Exchange username and password for a session token
  - POST /api/messages - Submit a command (202 Accepted, authenticated by the core)
  - GET /api/responses - Poll completed responses visible to the bearer
  - GET /api/items - List stored items at or below the bearer's clearance
  - GET /api/items/{id} - Read one decrypted item
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Admin API Endpoints

When the deployment secrets are protected by Shamir's Secret Sharing, the
daemon first serves a separate admin API and only starts the pipeline once
enough administrators submitted their shares:

  - GET /admin/status - Bootstrap progress
  - POST /admin/share - Submit an admin-signed share

# Example Usage

	handler := httpserver.NewHandler(httpserver.HandlerConfig{
		Auth:      tokens,
		Tokens:    tokens,
		Pipeline:  pipeline,
		Responses: pipeline.Responses(),
		Store:     store,
		ReadAs:    relay.DefaultCoreID,
		Log:       logger,
	})

	server, err := httpserver.New(cfg, handler, metricsServer)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver

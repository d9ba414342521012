/*
Package api holds the wire types of the relay HTTP bridge and the server
configuration shared by the bridge and its command line tools.

The bridge is the only way into the pipeline from outside. Clients obtain a
session token, submit commands, and poll for completed responses:

	POST /api/auth/token      {username, password} -> {token, clearance_level, expires_at}
	POST /api/messages        {content}            -> 202 {id}
	GET  /api/responses                            -> {responses: [...]}
	GET  /api/items                                -> {items: [...]}
	GET  /api/items/{id}                           -> {id, content}

Every request except token issuance carries "Authorization: Bearer <token>".
Responses and items are filtered by the clearance embedded in the token.

Failures are reported as ErrorResponse with the usual status codes: 400 for
malformed input, 401 for authentication failures, 403 for insufficient
clearance, 404 for unknown items and 503 when the pipeline is saturated.

The clients subpackage implements a Go client for these endpoints.
*/
package api

// Package relay implements the three-tier message relay.
//
// Commands enter at the core as unsigned interfaces.External messages
// carrying a session token. The core authenticates them and signs an
// instruction for the auditor, which verifies it, filters it and re-signs it
// for the edge. The edge executes the task and signs the result as data,
// which travels back through the auditor to the core. The core classifies
// the data, writes it to the gated store and publishes a Response.
//
//	ingress -> core -> auditor -> edge
//	           core <- auditor <- edge
//
// Each tier is an Agent driven by a Runtime. The runtime gives every agent
// its own mailbox and goroutine and only delivers along the routes above;
// in particular core and edge can never reach each other directly.
//
// A hop that fails authentication, signature, clearance, decryption or
// policy checks terminates the flow. The failure is logged, recorded in the
// action log and reported as an *interfaces.HopError in the agent Outcome.
// Nothing is retried.
//
// With HopContext.ReencryptRelays set, every forwarded payload is encrypted
// for the receiving agent at its registry level, so a tier can only read
// what was sealed for it.
package relay

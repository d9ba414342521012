package relay

import (
	"context"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// Tier is the position of an agent in the relay hierarchy.
type Tier string

const (
	TierIngress Tier = "ingress"
	TierCore    Tier = "core"
	TierAuditor Tier = "auditor"
	TierEdge    Tier = "edge"
)

// Ingress is the sender name used for messages entering the pipeline from outside.
const Ingress = "ingress"

// allowedRoutes lists the only tier-to-tier hops the runtime delivers.
// Every path between core and edge passes the auditor.
var allowedRoutes = map[Tier]map[Tier]bool{
	TierIngress: {TierCore: true},
	TierCore:    {TierAuditor: true},
	TierAuditor: {TierEdge: true, TierCore: true},
	TierEdge:    {TierAuditor: true},
}

// RouteAllowed reports whether a message may travel from one tier to another.
func RouteAllowed(from, to Tier) bool {
	return allowedRoutes[from][to]
}

// Delivery is a message handed to an agent together with the runtime-verified sender.
type Delivery struct {
	From    string
	Message interfaces.Message
}

// Dispatch is a message an agent wants delivered to another agent.
type Dispatch struct {
	To      string
	Message interfaces.Message
}

// Outcome is the result of handling one delivery. Err is set when the
// message flow terminated at this hop; the agent has already logged it.
type Outcome struct {
	Forward []Dispatch
	Err     error
}

// Agent is a single relay tier. The runtime calls Handle for one delivery at
// a time, in arrival order.
type Agent interface {
	ID() string
	Clearance() interfaces.ClearanceLevel
	Handle(ctx context.Context, d Delivery) Outcome
}

package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// ApprovalRequest describes an authenticated command awaiting approval at the core.
type ApprovalRequest struct {
	MessageID string
	Subject   string
	Clearance interfaces.ClearanceLevel
	Content   string
}

// ApprovalPolicy decides whether the core may act on an authenticated command.
type ApprovalPolicy interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApprovalFunc adapts a function to ApprovalPolicy.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

func (f ApprovalFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves every command.
var AutoApprove ApprovalPolicy = ApprovalFunc(func(context.Context, ApprovalRequest) (bool, error) {
	return true, nil
})

// SensitiveCommandApproval routes commands containing any of Keywords
// (case-insensitive) to Approver and approves everything else.
// A nil Approver denies sensitive commands.
type SensitiveCommandApproval struct {
	Keywords []string
	Approver ApprovalPolicy
}

func (p SensitiveCommandApproval) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	if _, found := firstMatch(req.Content, p.Keywords); !found {
		return true, nil
	}
	if p.Approver == nil {
		return false, nil
	}
	return p.Approver.Approve(ctx, req)
}

// TransformRequest is the command the core is about to sign.
type TransformRequest struct {
	MessageID string
	Subject   string
	Clearance interfaces.ClearanceLevel
	Content   string
}

// Transformer rewrites a command before the core signs it, e.g. by asking an LLM
// to turn a user request into a task for the edge.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest) (string, error)
}

// ClassificationRequest is the data the core is about to persist.
type ClassificationRequest struct {
	MessageID string
	Sender    string
	Content   string
	// Declared is the level carried by the envelope, if any.
	Declared *interfaces.ClearanceLevel
}

// ClassificationPolicy assigns the clearance level data is stored under.
type ClassificationPolicy interface {
	Classify(ctx context.Context, req ClassificationRequest) (interfaces.ClearanceLevel, error)
}

// ClassificationFunc adapts a function to ClassificationPolicy.
type ClassificationFunc func(ctx context.Context, req ClassificationRequest) (interfaces.ClearanceLevel, error)

func (f ClassificationFunc) Classify(ctx context.Context, req ClassificationRequest) (interfaces.ClearanceLevel, error) {
	return f(ctx, req)
}

// FixedClassification stores all data at one level.
func FixedClassification(level interfaces.ClearanceLevel) ClassificationPolicy {
	return ClassificationFunc(func(context.Context, ClassificationRequest) (interfaces.ClearanceLevel, error) {
		return level, nil
	})
}

// Inspection is a message under review by the auditor.
type Inspection struct {
	MessageID string
	Kind      interfaces.MessageKind
	Sender    string
	Clearance *interfaces.ClearanceLevel
	Content   string
}

// InstructionPolicy filters instructions travelling from core to edge.
// A non-nil error rejects the instruction.
type InstructionPolicy interface {
	Inspect(ctx context.Context, in Inspection) error
}

// ContentPolicy checks data travelling from edge to core.
// A non-nil error rejects the data.
type ContentPolicy interface {
	Inspect(ctx context.Context, in Inspection) error
}

// InspectFunc adapts a function to InstructionPolicy and ContentPolicy.
type InspectFunc func(ctx context.Context, in Inspection) error

func (f InspectFunc) Inspect(ctx context.Context, in Inspection) error {
	return f(ctx, in)
}

// PassThrough accepts every message.
var PassThrough = InspectFunc(func(context.Context, Inspection) error { return nil })

// DefaultBlockedTerms is what the default content policy rejects.
var DefaultBlockedTerms = []string{"malicious"}

// KeywordPolicy rejects messages whose content contains any of Terms (case-insensitive).
type KeywordPolicy struct {
	Terms []string
}

func (p KeywordPolicy) Inspect(_ context.Context, in Inspection) error {
	if term, found := firstMatch(in.Content, p.Terms); found {
		return fmt.Errorf("%w: %s content flagged for %q", interfaces.ErrPolicyViolation, in.Kind, term)
	}
	return nil
}

// Executor performs a task at the edge and returns its result.
type Executor interface {
	Execute(ctx context.Context, task string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

// EchoExecutor reports the task as executed without doing anything.
func EchoExecutor(edgeID string) Executor {
	return ExecutorFunc(func(_ context.Context, task string) (string, error) {
		return fmt.Sprintf("Result of task '%s' executed by %s", task, edgeID), nil
	})
}

func firstMatch(s string, keywords []string) (string, bool) {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

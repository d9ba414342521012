package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/metrics"
)

// HopContext bundles the services every tier uses to sign, verify, seal and
// report the messages it handles. It is shared read-only between tiers.
type HopContext struct {
	Signer   interfaces.EnvelopeSigner
	Verifier interfaces.EnvelopeVerifier
	Cipher   interfaces.Cipher
	Registry interfaces.ClearanceRegistry
	Actions  interfaces.ActionLogger
	Metrics  *metrics.Recorder
	Log      *slog.Logger

	// ReencryptRelays seals every forwarded payload for the receiving
	// identity at its registry level.
	ReencryptRelays bool
}

func (h *HopContext) validate() error {
	switch {
	case h.Signer == nil:
		return fmt.Errorf("%w: no envelope signer", interfaces.ErrSigningKeyUnavailable)
	case h.Verifier == nil:
		return fmt.Errorf("no envelope verifier")
	case h.Registry == nil:
		return fmt.Errorf("no clearance registry")
	case h.ReencryptRelays && h.Cipher == nil:
		return fmt.Errorf("re-encryption enabled without a cipher")
	case h.Log == nil:
		return fmt.Errorf("no logger")
	}
	return nil
}

func (h *HopContext) record(ctx context.Context, agent, action, messageID string, err error) {
	if h.Actions == nil {
		return
	}
	h.Actions.Record(ctx, interfaces.ActionEvent{Agent: agent, Action: action, MessageID: messageID, Err: err})
}

// reject terminates the flow of msg at this hop.
func (h *HopContext) reject(ctx context.Context, agent, op string, msg interfaces.Message, err error) Outcome {
	hopErr := &interfaces.HopError{Agent: agent, Op: op, Err: err}

	h.Log.Warn("Rejected message",
		slog.String("agent", agent),
		slog.String("op", op),
		slog.String("kind", string(msg.Kind())),
		slog.String("message_id", msg.MessageID()),
		slog.String("reason", interfaces.FailureReason(err)),
		"err", err)
	h.record(ctx, agent, op, msg.MessageID(), err)
	h.Metrics.RecordHop(agent, string(msg.Kind()), metrics.Outcome(err))

	return Outcome{Err: hopErr}
}

// accept records a successful hop and forwards the given dispatches.
func (h *HopContext) accept(ctx context.Context, agent, op string, msg interfaces.Message, forward ...Dispatch) Outcome {
	h.Log.Debug("Handled message",
		slog.String("agent", agent),
		slog.String("op", op),
		slog.String("kind", string(msg.Kind())),
		slog.String("message_id", msg.MessageID()))
	h.record(ctx, agent, op, msg.MessageID(), nil)
	h.Metrics.RecordHop(agent, string(msg.Kind()), metrics.OutcomeOK)

	return Outcome{Forward: forward}
}

// verifyFrom checks the envelope signature and freshness, then that it was
// signed by the agent the runtime delivered it from.
func (h *HopContext) verifyFrom(d Delivery, env interfaces.Envelope, expected string) error {
	if err := h.Verifier.Check(env); err != nil {
		return err
	}
	if d.From != expected || env.Sender != expected {
		return fmt.Errorf("%w: %s envelope from %q (signed by %q), expected %q",
			interfaces.ErrRouteNotAllowed, env.Type, d.From, env.Sender, expected)
	}
	return nil
}

// seal prepares payload for recipient. Without re-encryption, or for
// recipients at level zero, the payload travels as signed plaintext.
func (h *HopContext) seal(payload, recipient string) (string, []interfaces.SignOption, error) {
	if !h.ReencryptRelays {
		return payload, nil, nil
	}
	level := h.Registry.ClearanceLevel(recipient)
	if level == interfaces.Unclassified {
		return payload, nil, nil
	}

	ciphertext, err := h.Cipher.Encrypt(payload, level, recipient)
	if err != nil {
		return "", nil, fmt.Errorf("failed to seal payload for %s: %w", recipient, err)
	}
	return ciphertext, []interfaces.SignOption{interfaces.WithEncrypted()}, nil
}

// open returns the plaintext of an envelope addressed to agent.
func (h *HopContext) open(agent string, env interfaces.Envelope) (string, error) {
	if !env.Encrypted {
		return env.Message, nil
	}
	if h.Cipher == nil {
		return "", fmt.Errorf("%w: no cipher configured", interfaces.ErrDecryptionFailure)
	}
	return h.Cipher.Decrypt(env.Message, agent)
}

// sign seals payload for recipient and signs it as sender.
func (h *HopContext) sign(kind interfaces.MessageKind, payload, sender, recipient, token string, opts ...interfaces.SignOption) (interfaces.Envelope, error) {
	sealed, sealOpts, err := h.seal(payload, recipient)
	if err != nil {
		return interfaces.Envelope{}, err
	}
	return h.Signer.Sign(kind, sealed, sender, token, append(opts, sealOpts...)...)
}

package api

import (
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// BearerPrefix precedes the session token in the Authorization header.
const BearerPrefix = "Bearer "

// TokenRequest is the body of POST /api/auth/token.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued session token.
type TokenResponse struct {
	Token          string                    `json:"token"`
	Subject        string                    `json:"subject"`
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level"`
	ExpiresAt      time.Time                 `json:"expires_at"`
}

// SubmitRequest is the body of POST /api/messages. The token comes from the
// Authorization header unless Token is set.
type SubmitRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
	Token   string `json:"token,omitempty"`
}

// SubmitResponse acknowledges a command. The command is authenticated
// asynchronously; its result shows up under the same id.
type SubmitResponse struct {
	ID string `json:"id"`
}

// RelayResponse is one completed command as returned by GET /api/responses.
// ID is the command's id, ItemID the stored result.
type RelayResponse struct {
	ID             string                    `json:"id"`
	ItemID         string                    `json:"item_id"`
	Requester      string                    `json:"requester"`
	Content        string                    `json:"content"`
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// ResponsesResponse is the body of GET /api/responses.
type ResponsesResponse struct {
	Responses []RelayResponse `json:"responses"`
}

// Item is a decrypted content item.
type Item struct {
	ID             string                    `json:"id"`
	Content        string                    `json:"content"`
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level"`
	Timestamp      time.Time                 `json:"timestamp"`
	Owner          string                    `json:"owner,omitempty"`
}

// NewItem converts a stored item for the wire.
func NewItem(item interfaces.ContentItem) Item {
	return Item{
		ID:             item.ID,
		Content:        item.Content,
		ClearanceLevel: item.ClearanceLevel,
		Timestamp:      item.Timestamp,
		Owner:          item.Owner,
	}
}

// ItemContent is the body of GET /api/items/{id}.
type ItemContent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ItemsResponse is the body of GET /api/items.
type ItemsResponse struct {
	Items []Item `json:"items"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// BootstrapStatus is the body of GET /admin/status.
type BootstrapStatus struct {
	Unlocked       bool `json:"unlocked"`
	Threshold      int  `json:"threshold"`
	TotalShares    int  `json:"total_shares"`
	ReceivedShares int  `json:"received_shares"`
}

// ShareSubmission is the body of POST /admin/share. Share and Signature are
// base64; AdminKey is the PEM public key the share was signed with.
type ShareSubmission struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"`
	Signature  string `json:"signature"`
	AdminKey   string `json:"admin_key"`
}

// SealedShare is one share of the master secret encrypted to its admin's
// P-256 public key, as handed out after splitting. Sealed is base64.
type SealedShare struct {
	ShareIndex int    `json:"share_index"`
	AdminID    string `json:"admin_id,omitempty"`
	AdminKey   string `json:"admin_key"`
	Sealed     string `json:"sealed"`
}

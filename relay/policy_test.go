package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Create(ctx context.Context, messages []interfaces.ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

type stubStore struct {
	interfaces.ItemStore
	items     []interfaces.ContentItem
	requested interfaces.ClearanceLevel
}

func (s *stubStore) FetchByClearance(_ context.Context, level interfaces.ClearanceLevel, _ string) ([]interfaces.ContentItem, error) {
	s.requested = level
	return s.items, nil
}

func TestSensitiveCommandApproval(t *testing.T) {
	ctx := context.Background()
	approver := ApprovalFunc(func(_ context.Context, req ApprovalRequest) (bool, error) {
		return req.Clearance >= interfaces.CoreClearance, nil
	})

	tests := []struct {
		name   string
		policy SensitiveCommandApproval
		req    ApprovalRequest
		want   bool
	}{
		{"harmless", SensitiveCommandApproval{Keywords: []string{"delete"}}, ApprovalRequest{Content: "ping"}, true},
		{"sensitive without approver", SensitiveCommandApproval{Keywords: []string{"delete"}}, ApprovalRequest{Content: "Delete it"}, false},
		{"sensitive denied", SensitiveCommandApproval{Keywords: []string{"delete"}, Approver: approver}, ApprovalRequest{Content: "delete", Clearance: interfaces.EdgeClearance}, false},
		{"sensitive approved", SensitiveCommandApproval{Keywords: []string{"delete"}, Approver: approver}, ApprovalRequest{Content: "delete", Clearance: interfaces.CoreClearance}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Approve(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassificationPolicies(t *testing.T) {
	ctx := context.Background()

	level, err := FixedClassification(interfaces.AuditorClearance).Classify(ctx, ClassificationRequest{})
	require.NoError(t, err)
	assert.Equal(t, interfaces.AuditorClearance, level)
}

func TestKeywordPolicy(t *testing.T) {
	policy := KeywordPolicy{Terms: DefaultBlockedTerms}
	ctx := context.Background()

	assert.NoError(t, policy.Inspect(ctx, Inspection{Kind: interfaces.KindData, Content: "all clear"}))
	err := policy.Inspect(ctx, Inspection{Kind: interfaces.KindData, Content: "MALICIOUS stuff"})
	assert.ErrorIs(t, err, interfaces.ErrPolicyViolation)
	assert.NoError(t, PassThrough.Inspect(ctx, Inspection{Content: "malicious"}))
}

func TestCompleterExecutor(t *testing.T) {
	completer := &MockCompleter{}
	completer.On("Create", mock.Anything, []interfaces.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "ping"},
	}).Return("pong", nil).Once()

	out, err := CompleterExecutor{Completer: completer, SystemPrompt: "be brief"}.Execute(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	completer.On("Create", mock.Anything, mock.Anything).Return("", errors.New("rate limited")).Once()
	_, err = CompleterExecutor{Completer: completer}.Execute(context.Background(), "ping")
	assert.Error(t, err)
	completer.AssertExpectations(t)
}

func TestCompleterTransformerCapsContext(t *testing.T) {
	store := &stubStore{items: []interfaces.ContentItem{{Content: "fact one"}, {Content: ""}, {Content: "fact two"}}}
	completer := &MockCompleter{}
	completer.On("Create", mock.Anything, []interfaces.ChatMessage{
		{Role: "system", Content: "Context:\nfact one\nfact two"},
		{Role: "user", Content: "summarise"},
	}).Return("  summarise facts  \n", nil)

	transformer := CompleterTransformer{
		Completer: completer,
		Store:     store,
		Identity:  DefaultCoreID,
		Clearance: interfaces.CoreClearance,
	}
	task, err := transformer.Transform(context.Background(), TransformRequest{Content: "summarise", Clearance: interfaces.EdgeClearance})
	require.NoError(t, err)
	assert.Equal(t, "summarise facts", task)
	assert.Equal(t, interfaces.EdgeClearance, store.requested)
}

func TestResponseQueue(t *testing.T) {
	q := NewResponseQueue(2)
	q.Publish(Response{MessageID: "1", Requester: "alice", ClearanceLevel: interfaces.CoreClearance})
	q.Publish(Response{MessageID: "2", Requester: "bob", ClearanceLevel: interfaces.EdgeClearance})
	q.Publish(Response{MessageID: "3", Requester: "bob", ClearanceLevel: interfaces.CoreClearance})
	assert.Equal(t, 2, q.Len(), "oldest dropped")

	got := q.Poll("alice", interfaces.AuditorClearance)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].MessageID)

	got = q.Poll("bob", interfaces.Unclassified)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].MessageID)
	assert.Zero(t, q.Len())
}

func TestResponseQueueAwait(t *testing.T) {
	q := NewResponseQueue(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Publish(Response{MessageID: "other"})
		q.Publish(Response{MessageID: "wanted", Content: "done"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := q.Await(ctx, "wanted")
	require.NoError(t, err)
	assert.Equal(t, "done", r.Content)
	assert.Equal(t, 1, q.Len())

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = q.Await(short, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

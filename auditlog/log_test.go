package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drained(t *testing.T, l *Log) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Drain(ctx))
}

func TestLog_ChainsEntries(t *testing.T) {
	var sink bytes.Buffer
	l := New(testLogger(), 0, WithSink(&sink))
	defer l.Close()

	ctx := context.Background()
	l.Record(ctx, interfaces.ActionEvent{Agent: "core_agent", Action: "sign instruction", MessageID: "m1"})
	l.Record(ctx, interfaces.ActionEvent{Agent: "auditor_agent", Action: "verify instruction", MessageID: "m1",
		Err: &interfaces.VerificationError{Reason: interfaces.ReasonBadSignature}})
	l.Record(ctx, interfaces.ActionEvent{Agent: "edge_agent_one", Action: "execute", MessageID: "m2"})
	drained(t, l)

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Empty(t, entries[0].Prev)
	assert.Equal(t, entries[0].CID, entries[1].Prev)
	assert.Equal(t, entries[1].CID, entries[2].Prev)
	assert.Equal(t, entries[2].CID, l.Head())
	assert.True(t, strings.HasPrefix(entries[0].CID, "b"), "CIDv1 in base32")

	assert.Equal(t, OutcomeOK, entries[0].Outcome)
	assert.Equal(t, OutcomeFailed, entries[1].Outcome)
	assert.Equal(t, "SignatureInvalid(bad_signature)", entries[1].Reason)

	require.NoError(t, VerifyChain(entries))

	fromSink, err := ReadEntries(&sink)
	require.NoError(t, err)
	require.Len(t, fromSink, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].CID, fromSink[i].CID)
		assert.True(t, entries[i].Timestamp.Equal(fromSink[i].Timestamp))
	}
	require.NoError(t, VerifyChain(fromSink))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	l := New(testLogger(), 0)
	for i := 0; i < 4; i++ {
		l.Record(context.Background(), interfaces.ActionEvent{Agent: "core_agent", Action: fmt.Sprintf("action %d", i)})
	}
	l.Close()
	entries := l.Entries()
	require.NoError(t, VerifyChain(entries))

	edited := append([]Entry(nil), entries...)
	edited[1].Action = "something else"
	assert.True(t, errors.Is(VerifyChain(edited), ErrBrokenChain))

	removed := append(append([]Entry(nil), entries[:2]...), entries[3:]...)
	assert.True(t, errors.Is(VerifyChain(removed), ErrBrokenChain))

	// A suffix is still a valid chain.
	assert.NoError(t, VerifyChain(entries[2:]))
}

func TestLog_RecordNeverBlocks(t *testing.T) {
	l := New(testLogger(), 1, WithSink(blockingWriter{release: make(chan struct{})}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Record(context.Background(), interfaces.ActionEvent{Agent: "edge_agent_one", Action: "execute"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled sink")
	}
	assert.Greater(t, l.Dropped(), uint64(0))
}

func TestLog_FailingSinkKeepsChainConsistent(t *testing.T) {
	sink := &flakyWriter{}
	l := New(testLogger(), 0, WithSink(sink))

	l.Record(context.Background(), interfaces.ActionEvent{Agent: "a", Action: "one"})
	drained(t, l)
	sink.setFail(true)
	l.Record(context.Background(), interfaces.ActionEvent{Agent: "a", Action: "two"})
	drained(t, l)
	sink.setFail(false)
	l.Record(context.Background(), interfaces.ActionEvent{Agent: "a", Action: "three"})
	l.Close()

	assert.Equal(t, uint64(1), l.Dropped())
	onDisk, err := ReadEntries(strings.NewReader(sink.String()))
	require.NoError(t, err)
	require.Len(t, onDisk, 2)
	assert.NoError(t, VerifyChain(onDisk))
}

func TestLog_RecordAfterClose(t *testing.T) {
	l := New(testLogger(), 0)
	l.Close()
	l.Record(context.Background(), interfaces.ActionEvent{Agent: "a", Action: "late"})
	assert.Empty(t, l.Entries())
	assert.Equal(t, uint64(1), l.Dropped())
}

func TestOpenFile_ResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.jsonl")

	first, file, err := OpenFile(path, testLogger(), 0)
	require.NoError(t, err)
	first.Record(context.Background(), interfaces.ActionEvent{Agent: "core_agent", Action: "boot"})
	first.Close()
	require.NoError(t, file.Close())

	second, file, err := OpenFile(path, testLogger(), 0)
	require.NoError(t, err)
	second.Record(context.Background(), interfaces.ActionEvent{Agent: "core_agent", Action: "again"})
	second.Close()
	require.NoError(t, file.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, err := ReadEntries(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.NoError(t, VerifyChain(entries))

	require.NoError(t, os.WriteFile(path, []byte(`{"seq":1,"agent":"x","cid":"bogus"}`+"\n"), 0o600))
	_, _, err = OpenFile(path, testLogger(), 0)
	assert.Error(t, err)
}

func TestLog_ConcurrentRecord(t *testing.T) {
	l := New(testLogger(), 4096)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record(context.Background(), interfaces.ActionEvent{Agent: fmt.Sprintf("agent-%d", i), Action: "tick"})
			}
		}(i)
	}
	wg.Wait()
	l.Close()

	entries := l.Entries()
	assert.Len(t, entries, 400)
	assert.NoError(t, VerifyChain(entries))
}

type blockingWriter struct {
	release chan struct{}
}

func (w blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

type flakyWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	fail bool
}

func (w *flakyWriter) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("disk full")
	}
	return w.buf.Write(p)
}

func (w *flakyWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

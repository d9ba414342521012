package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder("test", reg)
	require.NoError(t, err)

	r.RecordHop("core_agent", "external", OutcomeOK)
	r.RecordHop("core_agent", "external", OutcomeOK)
	r.RecordHop("auditor_agent", "instruction", OutcomeRejected)
	r.RecordStoreOp("write", OutcomeOK)
	r.RecordCredential("issue", OutcomeError)

	assert.Equal(t, 2.0, counterValue(t, reg, "test_relay_hops_total", "core_agent", "external", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_relay_hops_total", "auditor_agent", "instruction", OutcomeRejected))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_store_operations_total", "write", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_credentials_total", "issue", OutcomeError))
}

// counterValue finds the counter whose label values equal labels, in label-name order.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range family.GetMetric() {
			pairs := m.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for i, pair := range pairs {
				if pair.GetValue() != labels[i] {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordHop("a", "b", "c")
		r.RecordStoreOp("a", "b")
		r.RecordCredential("a", "b")
	})
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder("test", reg)
	require.NoError(t, err)
	_, err = NewRecorder("test", reg)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, OutcomeRejected, Outcome(errors.New("x")))
}

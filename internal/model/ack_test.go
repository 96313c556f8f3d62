package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcknowledgmentsAggregate_AggregateStatus(t *testing.T) {
	agg := NewAcknowledgmentsAggregate("cid-1")
	agg.Put(AcknowledgmentEnvelope{Label: "a", Status: 201})
	agg.Put(AcknowledgmentEnvelope{Label: "b", Status: 404})

	status, ok := agg.AggregateStatus()
	assert.True(t, ok)
	assert.Equal(t, 404, status)
}

func TestAcknowledgmentsAggregate_AggregateStatus_PrefersRealResponseOverTimeoutOnTie(t *testing.T) {
	agg := NewAcknowledgmentsAggregate("cid-1")
	agg.Put(AcknowledgmentEnvelope{Label: "a", Status: int(AckTimeout), TimedOut: true})
	agg.Put(AcknowledgmentEnvelope{Label: "b", Status: int(AckTimeout), TimedOut: false})

	status, ok := agg.AggregateStatus()
	assert.True(t, ok)
	assert.Equal(t, int(AckTimeout), status)

	env := agg.Envelopes["b"]
	assert.False(t, env.TimedOut)
}

func TestAcknowledgmentsAggregate_AggregateStatus_EmptyAggregate(t *testing.T) {
	agg := NewAcknowledgmentsAggregate("cid-1")

	_, ok := agg.AggregateStatus()
	assert.False(t, ok)
}

func TestAcknowledgmentsAggregate_FillTimeouts(t *testing.T) {
	agg := NewAcknowledgmentsAggregate("cid-1")
	agg.Put(AcknowledgmentEnvelope{Label: "present", Status: 200})

	agg.FillTimeouts([]string{"present", "missing"})

	assert.True(t, agg.Envelopes["present"].Succeeded())
	assert.True(t, agg.Envelopes["missing"].TimedOut)
	assert.Equal(t, int(AckTimeout), agg.Envelopes["missing"].Status)
	assert.False(t, agg.AllSucceeded())
}

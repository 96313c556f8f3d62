package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redbco/redb-connect/internal/correlator"
	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/throttle"
	"github.com/redbco/redb-connect/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_DispatchesAndCorrelates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(200)
		w.Write([]byte("hello!"))
	}))
	defer server.Close()

	conn := &model.Connection{ID: "conn-1", Type: model.HTTPPush, URI: server.URL}
	pipeline, err := New(conn, Config{MaxInFlight: 2}, logger.New("test", "0.0.1"), nil)
	require.NoError(t, err)

	signal := model.MappedOutboundSignal{
		CorrelationID: "cid-1",
		Target:        model.Target{Address: "GET:/hooks/{{thing:id}}", IssuedAckLabel: "please-verify"},
		Message:       model.ExternalMessage{Headers: map[string]string{}},
		Resolver:      model.ResolverContext{ThingID: "lamp-1"},
	}
	cmd := correlator.Command{CorrelationID: "cid-1", IssuedAckLabel: "please-verify"}

	done := make(chan *model.AcknowledgmentsAggregate, 1)
	pipeline.Dispatch(context.Background(), signal, cmd, func(agg *model.AcknowledgmentsAggregate) {
		done <- agg
	})

	select {
	case agg := <-done:
		env := agg.Envelopes["please-verify"]
		assert.Equal(t, 200, env.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete")
	}
}

func TestPipeline_ReservedHeadersOverrideAddress(t *testing.T) {
	var capturedPath, capturedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		w.WriteHeader(200)
	}))
	defer server.Close()

	conn := &model.Connection{ID: "conn-1", Type: model.HTTPPush, URI: server.URL}
	pipeline, err := New(conn, Config{MaxInFlight: 1}, logger.New("test", "0.0.1"), nil)
	require.NoError(t, err)

	signal := model.MappedOutboundSignal{
		CorrelationID: "cid-1",
		Target:        model.Target{Address: "GET:/original/path", IssuedAckLabel: "ack"},
		Message: model.ExternalMessage{Headers: map[string]string{
			"http.query": "a=b&c=d",
			"http.path":  "my/awesome/path",
		}},
	}
	cmd := correlator.Command{CorrelationID: "cid-1", IssuedAckLabel: "ack"}

	done := make(chan struct{})
	pipeline.Dispatch(context.Background(), signal, cmd, func(agg *model.AcknowledgmentsAggregate) {
		close(done)
	})
	<-done

	assert.Equal(t, "/my/awesome/path", capturedPath)
	assert.Equal(t, "a=b&c=d", capturedQuery)
}

func TestPipeline_PlaceholderUnresolvedBecomesFailureAck(t *testing.T) {
	conn := &model.Connection{ID: "conn-1", Type: model.HTTPPush, URI: "http://example.invalid"}
	pipeline, err := New(conn, Config{MaxInFlight: 1}, logger.New("test", "0.0.1"), nil)
	require.NoError(t, err)

	signal := model.MappedOutboundSignal{
		CorrelationID: "cid-1",
		Target:        model.Target{Address: "GET:/things/{{thing:id}}", IssuedAckLabel: "ack"},
	}
	cmd := correlator.Command{CorrelationID: "cid-1", IssuedAckLabel: "ack"}

	done := make(chan *model.AcknowledgmentsAggregate, 1)
	pipeline.Dispatch(context.Background(), signal, cmd, func(agg *model.AcknowledgmentsAggregate) {
		done <- agg
	})

	agg := <-done
	assert.False(t, agg.Envelopes["ack"].Succeeded())
}

func TestPipeline_DispatchTicksThrottleWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	window := throttle.NewWindow(time.Now())
	conn := &model.Connection{ID: "conn-1", Type: model.HTTPPush, URI: server.URL}
	pipeline, err := New(conn, Config{MaxInFlight: 1}, logger.New("test", "0.0.1"), window)
	require.NoError(t, err)

	signal := model.MappedOutboundSignal{
		CorrelationID: "cid-1",
		Target:        model.Target{Address: "GET:/ping", IssuedAckLabel: "ack"},
		Message:       model.ExternalMessage{Headers: map[string]string{}},
	}
	cmd := correlator.Command{CorrelationID: "cid-1", IssuedAckLabel: "ack"}

	done := make(chan struct{})
	pipeline.Dispatch(context.Background(), signal, cmd, func(agg *model.AcknowledgmentsAggregate) {
		close(done)
	})
	<-done

	assert.Equal(t, int64(1), window.Rate(time.Now()))
}

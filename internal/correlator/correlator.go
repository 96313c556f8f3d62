// Package correlator implements the Response Correlator from
// SPEC_FULL.md §4.5: turning an HTTP response into either a validated live
// response or an acknowledgment envelope, and aggregating multiple
// requested acknowledgments (with REQUEST_TIMEOUT fill-in) into one
// AcknowledgmentsAggregate per outbound signal.
package correlator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
)

const dittoProtocolContentType = "application/vnd.eclipse.ditto+json"

// Command is the originating outbound command/event a response correlates
// against.
type Command struct {
	CorrelationID        string
	EntityID             string
	ExpectedSubtype      string // e.g. "messages.responses:thingResponseMessage"
	RequestsLiveResponse bool
	RequestedAckLabels   []string
	IssuedAckLabel       string // target's configured label, "" if none
}

// Response is the transport-level HTTP response the correlator classifies.
type Response struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// protocolEnvelope is the subset of a Ditto-protocol JSON response body the
// correlator needs to validate a live response.
type protocolEnvelope struct {
	Topic   string            `json:"topic"`
	Headers map[string]string `json:"headers"`
	Path    string            `json:"path"`
	Status  int               `json:"status"`
	Value   json.RawMessage   `json:"value"`
}

// Correlate produces the AcknowledgmentsAggregate for one outbound
// dispatch's response. If the command requested a live response and the
// response is Ditto-protocol JSON, the live response is validated and
// surfaced under the "LIVE_RESPONSE" label (mismatches become a BAD_REQUEST
// acknowledgment carrying the bit-exact message text from §6).
func Correlate(cmd Command, resp Response) *model.AcknowledgmentsAggregate {
	agg := model.NewAcknowledgmentsAggregate(cmd.CorrelationID)

	if cmd.RequestsLiveResponse && isDittoProtocol(resp.ContentType) {
		agg.Put(correlateLiveResponse(cmd, resp))
	} else {
		agg.Put(plainAcknowledgment(cmd, resp))
	}

	agg.FillTimeouts(cmd.RequestedAckLabels)
	return agg
}

func isDittoProtocol(contentType string) bool {
	return strings.HasPrefix(contentType, dittoProtocolContentType)
}

func correlateLiveResponse(cmd Command, resp Response) model.AcknowledgmentEnvelope {
	label := "LIVE_RESPONSE"

	var env protocolEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return badRequest(label, fmt.Sprintf("Live response body could not be parsed as Ditto protocol JSON: %v", err))
	}

	responseCorrelationID := env.Headers["correlation-id"]
	if responseCorrelationID != cmd.CorrelationID {
		return badRequest(label, fmt.Sprintf(
			"Correlation ID of response <%s> does not match correlation ID of message command <%s>",
			responseCorrelationID, cmd.CorrelationID))
	}

	responseEntityID := entityIDFromTopic(env.Topic)
	if responseEntityID != cmd.EntityID {
		return badRequest(label, fmt.Sprintf(
			"Live response does not target the correct thing. Expected thing ID <%s>, but was <%s>.",
			cmd.EntityID, responseEntityID))
	}

	responseSubtype := subtypeFromPath(env.Topic, env.Path)
	if responseSubtype != cmd.ExpectedSubtype {
		return badRequest(label, fmt.Sprintf(
			"Live response of type <%s> is not of expected type <%s>.",
			responseSubtype, cmd.ExpectedSubtype))
	}

	return model.AcknowledgmentEnvelope{
		Label:   label,
		Status:  env.Status,
		Payload: env.Value,
		Headers: env.Headers,
	}
}

func badRequest(label, message string) model.AcknowledgmentEnvelope {
	return model.AcknowledgmentEnvelope{
		Label:   label,
		Status:  400,
		Payload: mustJSONString(message),
	}
}

// entityIDFromTopic extracts the entity identifier from a Ditto protocol
// topic string of the form "namespace/name/group/channel/criterion/action".
func entityIDFromTopic(topic string) string {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) < 2 {
		return topic
	}
	return parts[0] + ":" + parts[1]
}

// subtypeFromPath derives a response subtype tag like
// "messages.responses:thingResponseMessage" from the protocol envelope's
// path alone: a path containing "/features/" is a feature response,
// anything else a thing response. The topic argument is not consulted.
func subtypeFromPath(topic, path string) string {
	kind := "thingResponseMessage"
	if strings.Contains(path, "/features/") {
		kind = "featureResponseMessage"
	}
	return "messages.responses:" + kind
}

// plainAcknowledgment builds a non-live-response acknowledgment per
// SPEC_FULL.md §4.5 step 2: label from the target's configured ack label
// (or LIVE_RESPONSE if the command requested one and none is configured),
// status copied from the HTTP response, and an entity encoding that
// depends on the response content-type.
func plainAcknowledgment(cmd Command, resp Response) model.AcknowledgmentEnvelope {
	label := cmd.IssuedAckLabel
	if label == "" && cmd.RequestsLiveResponse {
		label = "LIVE_RESPONSE"
	}
	if label == "" {
		label = "LIVE_RESPONSE"
	}

	return model.AcknowledgmentEnvelope{
		Label:   label,
		Status:  resp.Status,
		Headers: resp.Headers,
		Payload: encodeEntity(resp.ContentType, resp.Body),
	}
}

// encodeEntity renders a response body into the acknowledgment payload
// encoding SPEC_FULL.md §4.5 step 2 describes: application/json and
// vnd.*+json bodies are parsed as JSON (falling back to a raw JSON string
// on parse failure); binary bodies become base64 inside a JSON string;
// everything else (text) becomes a JSON string verbatim.
func encodeEntity(contentType string, body []byte) []byte {
	switch {
	case isJSONContentType(contentType):
		var v interface{}
		if err := json.Unmarshal(body, &v); err == nil {
			reencoded, err := json.Marshal(v)
			if err == nil {
				return reencoded
			}
		}
		return mustJSONString(string(body))
	case isTextContentType(contentType):
		return mustJSONString(string(body))
	default:
		return mustJSONString(base64.StdEncoding.EncodeToString(body))
	}
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "application/json" || (strings.HasPrefix(ct, "application/vnd.") && strings.HasSuffix(ct, "+json"))
}

func isTextContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/")
}

func mustJSONString(s string) []byte {
	encoded, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}

// ErrUnsupportedResponse is returned by callers that need to surface a
// correlation failure outside an aggregate (e.g. logging); Correlate itself
// never returns an error, it always produces a best-effort aggregate.
var ErrUnsupportedResponse = ditterr.CorrelationMismatch("unsupported response shape", nil)

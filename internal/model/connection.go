// Package model holds the connectivity domain's value objects: the
// Connection and its Targets/Sources, the HMAC credentials they carry, and
// a per-connection-type capability table.
//
// Connections are immutable once created: a modification is a replacement
// Connection opened under the same ID, which the registry swaps in
// atomically (see internal/registry's Open).
package model

import "fmt"

// ConnectionType identifies the wire protocol a Connection speaks.
type ConnectionType string

const (
	HTTPPush ConnectionType = "HTTP_PUSH"
	Kafka    ConnectionType = "KAFKA"
	AMQP091  ConnectionType = "AMQP_091"
	AMQP10   ConnectionType = "AMQP_10"
	MQTT     ConnectionType = "MQTT"
	MQTT5    ConnectionType = "MQTT_5"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	StatusOpen    ConnectionStatus = "OPEN"
	StatusClosed  ConnectionStatus = "CLOSED"
	StatusFailing ConnectionStatus = "FAILING"
)

// Topic tags a Target with the signal categories it should receive.
type Topic string

const (
	TopicLiveMessages Topic = "LIVE_MESSAGES"
	TopicLiveEvents   Topic = "LIVE_EVENTS"
	TopicTwinEvents   Topic = "TWIN_EVENTS"
)

// HMACAlgorithm identifies a signing family for Credentials.
type HMACAlgorithm string

const (
	AlgorithmAWS4HMACSHA256    HMACAlgorithm = "aws4-hmac-sha256"
	AlgorithmAzMonitor20160401 HMACAlgorithm = "az-monitor-2016-04-01"
)

// Credentials carries HMAC signing parameters for a Connection. It is
// immutable: the Parameters map must not be mutated after construction.
type Credentials struct {
	Algorithm  HMACAlgorithm
	Parameters map[string]string
}

// Param returns a credential parameter, or "" if absent.
func (c Credentials) Param(name string) string {
	if c.Parameters == nil {
		return ""
	}
	return c.Parameters[name]
}

// ParamDefault returns a credential parameter, or def if absent/empty.
func (c Credentials) ParamDefault(name, def string) string {
	if v := c.Param(name); v != "" {
		return v
	}
	return def
}

// Target is an outbound destination: an address template rendered per
// signal, a header mapping, and the set of topics it subscribes to.
type Target struct {
	Address              string
	AuthorizationContext []string
	HeaderMapping        map[string]string // out-header-name -> template
	IssuedAckLabel       string            // "" if none configured
	Topics               []Topic
}

// RequestsLiveResponse reports whether this target is wired for live messages.
func (t Target) RequestsLiveResponse() bool {
	for _, topic := range t.Topics {
		if topic == TopicLiveMessages {
			return true
		}
	}
	return false
}

// Source is an inbound address a connection consumes records from.
type Source struct {
	Address              string
	AuthorizationContext []string
	QoS                  int
	MappingRules         []string
}

// Connection is the immutable root value object. Replace, never mutate.
type Connection struct {
	ID             string
	Type           ConnectionType
	Status         ConnectionStatus
	URI            string
	Credentials    *Credentials // nil if unauthenticated
	Targets        []Target
	Sources        []Source
	SpecificConfig map[string]string
}

// Validate checks structural invariants common to all connection types: a
// non-empty ID and type, and unique target addresses. Source addresses are
// not checked for uniqueness; per-type rules are left to transportvalidate.
func (c *Connection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	if c.Type == "" {
		return fmt.Errorf("connection type is required")
	}
	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if seen[t.Address] {
			return fmt.Errorf("duplicate target address %q", t.Address)
		}
		seen[t.Address] = true
	}
	return nil
}

// Clone returns a copy suitable as the basis for a modify-connection
// replacement (the registry swaps Connection pointers, never edits in place).
// The credentials and specific-config maps and the Targets/Sources slices
// are copied; the maps and slices inside each Target and Source are shared
// with the original.
func (c *Connection) Clone() *Connection {
	clone := &Connection{
		ID:     c.ID,
		Type:   c.Type,
		Status: c.Status,
		URI:    c.URI,
	}
	if c.Credentials != nil {
		params := make(map[string]string, len(c.Credentials.Parameters))
		for k, v := range c.Credentials.Parameters {
			params[k] = v
		}
		clone.Credentials = &Credentials{Algorithm: c.Credentials.Algorithm, Parameters: params}
	}
	clone.Targets = append(clone.Targets, c.Targets...)
	clone.Sources = append(clone.Sources, c.Sources...)
	if c.SpecificConfig != nil {
		clone.SpecificConfig = make(map[string]string, len(c.SpecificConfig))
		for k, v := range c.SpecificConfig {
			clone.SpecificConfig[k] = v
		}
	}
	return clone
}

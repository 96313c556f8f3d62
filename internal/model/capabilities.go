package model

// Capability describes the structural rules of one ConnectionType, exposed
// through CapabilitiesFor and MethodAllowed; transportvalidate and the
// publisher pipeline do not consult this table. This table replaces a
// much larger per-platform capability matrix; here it is trimmed to exactly
// the six connection types this service's wire protocols cover.
type Capability struct {
	Name                   string
	AllowsSources          bool
	AllowsTargets          bool
	SupportsPartitions     bool
	SupportsConsumerGroups bool
	RequiresSigning        bool
	AllowedMethods         []string // HTTP verbs; empty for non-HTTP types
	DefaultPort            int
}

var capabilities = map[ConnectionType]Capability{
	HTTPPush: {
		Name:            "HTTP_PUSH",
		AllowsSources:   false,
		AllowsTargets:   true,
		RequiresSigning: false, // signing is opt-in via Credentials, not mandatory
		AllowedMethods:  []string{"GET", "POST", "PUT", "PATCH"},
		DefaultPort:     443,
	},
	Kafka: {
		Name:                   "KAFKA",
		AllowsSources:          true,
		AllowsTargets:          true,
		SupportsPartitions:     true,
		SupportsConsumerGroups: true,
		DefaultPort:            9092,
	},
	AMQP091: {
		Name:          "AMQP_091",
		AllowsSources: true,
		AllowsTargets: true,
		DefaultPort:   5672,
	},
	AMQP10: {
		Name:          "AMQP_10",
		AllowsSources: true,
		AllowsTargets: true,
		DefaultPort:   5672,
	},
	MQTT: {
		Name:          "MQTT",
		AllowsSources: true,
		AllowsTargets: true,
		DefaultPort:   1883,
	},
	MQTT5: {
		Name:          "MQTT_5",
		AllowsSources: true,
		AllowsTargets: true,
		DefaultPort:   1883,
	},
}

// CapabilitiesFor returns the capability descriptor for a ConnectionType and
// whether that type is known.
func CapabilitiesFor(t ConnectionType) (Capability, bool) {
	c, ok := capabilities[t]
	return c, ok
}

// MethodAllowed reports whether an HTTP method is permitted for an HTTP_PUSH
// target. Always false for non-HTTP connection types.
func MethodAllowed(t ConnectionType, method string) bool {
	c, ok := capabilities[t]
	if !ok {
		return false
	}
	for _, m := range c.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

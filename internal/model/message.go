package model

// ExternalMessage is the wire-level payload and metadata handed to a
// transport once an outbound signal has been mapped and addressed.
type ExternalMessage struct {
	TextPayload string
	BytePayload []byte
	Headers     map[string]string
	ContentType string
}

// MappedOutboundSignal is the result of running a Thing-domain signal
// through a payload mapper: a rendered ExternalMessage plus the resolver
// context used to expand the target's address template.
type MappedOutboundSignal struct {
	CorrelationID string
	Target        Target
	Message       ExternalMessage
	Resolver      ResolverContext
}

// ResolverContext supplies the named values an address/header template's
// {{prefix:name}} placeholders resolve against.
type ResolverContext struct {
	ThingID   string
	EntityID  string
	FeatureID string
	Headers   map[string]string
	TopicPath string
}

// Lookup resolves a single placeholder of the form prefix:name. It returns
// ok=false if the prefix is unknown or the name has no value under it.
func (r ResolverContext) Lookup(prefix, name string) (string, bool) {
	switch prefix {
	case "thing":
		if name == "id" {
			return r.ThingID, r.ThingID != ""
		}
	case "entity":
		if name == "id" {
			return r.EntityID, r.EntityID != ""
		}
	case "feature":
		if name == "id" {
			return r.FeatureID, r.FeatureID != ""
		}
	case "header":
		v, ok := r.Headers[name]
		return v, ok
	case "topic":
		if name == "path" {
			return r.TopicPath, r.TopicPath != ""
		}
	}
	return "", false
}

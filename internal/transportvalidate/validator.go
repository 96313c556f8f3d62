// Package transportvalidate enforces per-connection-type structural rules
// at accept-connection time, per SPEC_FULL.md §4.3.
package transportvalidate

import (
	"fmt"
	"net"
	"strings"

	"github.com/redbco/redb-connect/internal/addresstemplate"
	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
)

var httpPushMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true}

// Validate checks a Connection against the rules for its ConnectionType.
// Only HTTP_PUSH has rules specified by SPEC_FULL.md §4.3; other connection
// types pass through with only the structural checks Connection.Validate
// already performs.
func Validate(conn *model.Connection) error {
	if err := conn.Validate(); err != nil {
		return ditterr.ConnectionConfigurationInvalid(err.Error(), err)
	}

	switch conn.Type {
	case model.HTTPPush:
		return validateHTTPPush(conn)
	default:
		return nil
	}
}

func validateHTTPPush(conn *model.Connection) error {
	if len(conn.Sources) > 0 {
		return ditterr.ConnectionConfigurationInvalid(
			"HTTP_PUSH connections do not accept sources", nil)
	}

	for _, target := range conn.Targets {
		if err := validateHTTPPushAddress(target.Address); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPPushAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return ditterr.ConnectionConfigurationInvalid("HTTP_PUSH target address must not be empty", nil)
	}

	method, rest, ok := strings.Cut(address, ":")
	if !ok {
		return ditterr.ConnectionConfigurationInvalid(
			fmt.Sprintf("HTTP_PUSH target address %q is missing a METHOD: prefix", address), nil)
	}

	method = strings.ToUpper(method)
	if method == "DELETE" {
		return ditterr.ConnectionConfigurationInvalid(
			fmt.Sprintf("HTTP_PUSH target address %q uses DELETE, which is rejected for HTTP-Push targets", address), nil)
	}
	if !httpPushMethods[method] {
		return ditterr.ConnectionConfigurationInvalid(
			fmt.Sprintf("HTTP_PUSH target address %q uses unsupported method %q", address, method), nil)
	}

	if _, err := addresstemplate.Render(address, model.ResolverContext{}); err != nil {
		if !ditterr.Is(err, ditterr.KindPlaceholderUnresolved) {
			return ditterr.ConnectionConfigurationInvalid(
				fmt.Sprintf("HTTP_PUSH target address %q failed to parse: %v", address, err), err)
		}
	}

	if !strings.Contains(rest, "{{") {
		if host, port, err := splitHostPort(rest); err == nil {
			if !hostSyntacticallyValid(host) || !portSyntacticallyValid(port) {
				return ditterr.ConnectionConfigurationInvalid(
					fmt.Sprintf("HTTP_PUSH target address %q has an unresolvable host/port", address), nil)
			}
		}
	}

	return nil
}

// splitHostPort extracts a host:port pair if the rendered path begins with
// one (templates may omit host entirely and rely on the connection's URI).
func splitHostPort(pathWithQuery string) (string, string, error) {
	path, _, _ := strings.Cut(pathWithQuery, "?")
	path = strings.TrimPrefix(path, "//")
	if !strings.Contains(path, ":") {
		return "", "", fmt.Errorf("no host:port present")
	}
	segment, _, _ := strings.Cut(path, "/")
	return net.SplitHostPort(segment)
}

func hostSyntacticallyValid(host string) bool {
	return host != "" && !strings.ContainsAny(host, " \t")
}

func portSyntacticallyValid(port string) bool {
	if port == "" {
		return false
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

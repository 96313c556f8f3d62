// Package signing implements the two HMAC request-signing families the
// connectivity service's targets can require: AWS SigV4 and Azure Monitor's
// Log Analytics shared-key scheme. Both signers are pure functions of
// (request, credentials, timestamp) — same inputs always produce the same
// signed request.
package signing

import (
	"time"

	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
)

// Request is the unsigned-or-signed external request a Signer operates on.
// It is intentionally decoupled from net/http.Request: the publisher
// pipeline builds one of these before any transport is chosen, and signing
// must not require a live connection.
type Request struct {
	Method  string
	URI     string            // path only, e.g. "/api/v1/ingest"
	Query   map[string][]string
	Headers map[string]string
	Host    string
	Body    []byte
}

// Signer returns a signed copy of a Request; the input Request's header map
// is not modified.
type Signer interface {
	Sign(req Request, timestamp time.Time) (Request, error)
}

// ForCredentials returns the Signer implied by a Credentials value object's
// Algorithm tag.
func ForCredentials(creds model.Credentials) (Signer, error) {
	switch creds.Algorithm {
	case model.AlgorithmAWS4HMACSHA256:
		signer := NewAWSSigV4(creds)
		if signer.AccessKey == "" || signer.SecretKey == "" || signer.Region == "" || signer.Service == "" {
			return nil, ditterr.CredentialsInvalid("aws4-hmac-sha256 requires accessKey, secretKey, region and service", nil)
		}
		return signer, nil
	case model.AlgorithmAzMonitor20160401:
		signer := NewAzureMonitor(creds)
		if signer.WorkspaceID == "" || signer.SharedKey == "" {
			return nil, ditterr.CredentialsInvalid("az-monitor-2016-04-01 requires workspaceId and sharedKey", nil)
		}
		return signer, nil
	default:
		return nil, ditterr.CredentialsInvalid("unsupported signing algorithm", nil)
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

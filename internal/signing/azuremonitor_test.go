package signing

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/redbco/redb-connect/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAzureMonitor_Sign(t *testing.T) {
	sharedKey := base64.StdEncoding.EncodeToString([]byte("super-secret-key-material"))
	creds := model.Credentials{
		Algorithm: model.AlgorithmAzMonitor20160401,
		Parameters: map[string]string{
			"workspaceId": "d6a40b2e-1234-4abc-9876-abcdef012345",
			"sharedKey":   sharedKey,
		},
	}
	signer := NewAzureMonitor(creds)

	ts := time.Date(2023, 4, 1, 9, 30, 0, 0, time.UTC)
	req := Request{
		Method: "POST",
		URI:    "/api/logs",
		Headers: map[string]string{
			"content-type": "application/json",
		},
		Body: []byte(`[{"msg":"hello"}]`),
	}

	signed, err := signer.Sign(req, ts)
	require.NoError(t, err)

	assert.Equal(t, "Sat, 01 Apr 2023 09:30:00 GMT", signed.Headers["x-ms-date"])
	assert.Contains(t, signed.Headers["Authorization"], "SharedKey d6a40b2e-1234-4abc-9876-abcdef012345:")
}

func TestAzureMonitor_Idempotence(t *testing.T) {
	sharedKey := base64.StdEncoding.EncodeToString([]byte("super-secret-key-material"))
	creds := model.Credentials{
		Algorithm: model.AlgorithmAzMonitor20160401,
		Parameters: map[string]string{
			"workspaceId": "ws-1",
			"sharedKey":   sharedKey,
		},
	}
	signer := NewAzureMonitor(creds)
	ts := time.Date(2023, 4, 1, 9, 30, 0, 0, time.UTC)
	req := Request{Method: "POST", URI: "/api/logs", Headers: map[string]string{}, Body: []byte("{}")}

	first, err := signer.Sign(req, ts)
	require.NoError(t, err)
	second, err := signer.Sign(req, ts)
	require.NoError(t, err)

	assert.Equal(t, first.Headers["Authorization"], second.Headers["Authorization"])
}

func TestAzureMonitor_InvalidSharedKey(t *testing.T) {
	creds := model.Credentials{
		Algorithm: model.AlgorithmAzMonitor20160401,
		Parameters: map[string]string{
			"workspaceId": "ws-1",
			"sharedKey":   "not-valid-base64!!",
		},
	}
	signer := NewAzureMonitor(creds)
	_, err := signer.Sign(Request{Method: "POST", URI: "/x", Headers: map[string]string{}}, time.Now())
	assert.Error(t, err)
}

package signing

import (
	"testing"
	"time"

	"github.com/redbco/redb-connect/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() model.Credentials {
	return model.Credentials{
		Algorithm: model.AlgorithmAWS4HMACSHA256,
		Parameters: map[string]string{
			"region":    "us-east-1",
			"service":   "execute-api",
			"accessKey": "AKIDEXAMPLE",
			"secretKey": "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		},
	}
}

func TestAWSSigV4_Idempotence(t *testing.T) {
	signer := NewAWSSigV4(testCredentials())
	ts := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	req := Request{
		Method:  "POST",
		URI:     "/things/org.eclipse:lamp-1",
		Host:    "example.execute-api.us-east-1.amazonaws.com",
		Headers: map[string]string{},
		Body:    []byte(`{"status":"ON"}`),
	}

	first, err := signer.Sign(req, ts)
	require.NoError(t, err)
	second, err := signer.Sign(req, ts)
	require.NoError(t, err)

	assert.Equal(t, first.Headers["Authorization"], second.Headers["Authorization"])
	assert.Equal(t, first.Headers["x-amz-date"], second.Headers["x-amz-date"])
}

func TestAWSSigV4_AuthorizationHeaderShape(t *testing.T) {
	signer := NewAWSSigV4(testCredentials())
	ts := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	req := Request{
		Method:  "GET",
		URI:     "/",
		Host:    "example.execute-api.us-east-1.amazonaws.com",
		Headers: map[string]string{},
	}

	signed, err := signer.Sign(req, ts)
	require.NoError(t, err)

	auth := signed.Headers["Authorization"]
	assert.Contains(t, auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/execute-api/aws4_request")
	assert.Contains(t, auth, "SignedHeaders=host;x-amz-date")
	assert.Contains(t, auth, "Signature=")
	assert.Equal(t, "20150830T123600Z", signed.Headers["x-amz-date"])
}

func TestAWSSigV4_QueryOrdering(t *testing.T) {
	signer := NewAWSSigV4(testCredentials())
	ts := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)

	reqA := Request{
		Method: "GET",
		URI:    "/search",
		Host:   "example.execute-api.us-east-1.amazonaws.com",
		Query: map[string][]string{
			"b": {"2"},
			"a": {"1"},
		},
		Headers: map[string]string{},
	}
	reqB := Request{
		Method: "GET",
		URI:    "/search",
		Host:   "example.execute-api.us-east-1.amazonaws.com",
		Query: map[string][]string{
			"a": {"1"},
			"b": {"2"},
		},
		Headers: map[string]string{},
	}

	signedA, err := signer.Sign(reqA, ts)
	require.NoError(t, err)
	signedB, err := signer.Sign(reqB, ts)
	require.NoError(t, err)

	assert.Equal(t, signedA.Headers["Authorization"], signedB.Headers["Authorization"])
}

func TestAWSSigV4_DoubleEncodeChangesSignature(t *testing.T) {
	creds := testCredentials()
	creds.Parameters["doubleEncode"] = "false"
	plain := NewAWSSigV4(creds)

	doubled := NewAWSSigV4(testCredentials())

	ts := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	req := Request{
		Method:  "GET",
		URI:     "/things/with a space",
		Host:    "example.execute-api.us-east-1.amazonaws.com",
		Headers: map[string]string{},
	}

	plainSigned, err := plain.Sign(req, ts)
	require.NoError(t, err)
	doubledSigned, err := doubled.Sign(req, ts)
	require.NoError(t, err)

	assert.NotEqual(t, plainSigned.Headers["Authorization"], doubledSigned.Headers["Authorization"])
}

func TestForCredentials_UnsupportedAlgorithm(t *testing.T) {
	_, err := ForCredentials(model.Credentials{Algorithm: "unknown"})
	assert.Error(t, err)
}

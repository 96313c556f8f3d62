package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redbco/redb-connect/internal/model"
)

// AzureMonitor signs requests per the Log Analytics Data Collector API's
// shared-key scheme (workspace id + base64 shared key).
type AzureMonitor struct {
	WorkspaceID string
	SharedKey   string // base64-encoded
}

// NewAzureMonitor builds an AzureMonitor signer from a Credentials value object.
func NewAzureMonitor(creds model.Credentials) *AzureMonitor {
	return &AzureMonitor{
		WorkspaceID: creds.Param("workspaceId"),
		SharedKey:   creds.Param("sharedKey"),
	}
}

// Sign implements Signer. It adds x-ms-date (RFC1123 UTC) and Authorization
// headers; the signature covers verb, content-length, content-type,
// x-ms-date and the resource URI path, exactly as the Log Analytics
// Data Collector API requires.
func (s *AzureMonitor) Sign(req Request, timestamp time.Time) (Request, error) {
	signed := req
	signed.Headers = cloneHeaders(req.Headers)

	xMsDate := timestamp.UTC().Format(time.RFC1123)
	// RFC1123 renders "UTC" as the zone name; Azure Monitor requires "GMT".
	xMsDate = xMsDate[:len(xMsDate)-3] + "GMT"

	contentType := signed.Headers["content-type"]
	if contentType == "" {
		contentType = "application/json"
	}
	contentLength := strconv.Itoa(len(req.Body))

	stringToSign := req.Method + "\n" +
		contentLength + "\n" +
		contentType + "\n" +
		"x-ms-date:" + xMsDate + "\n" +
		req.URI

	key, err := base64.StdEncoding.DecodeString(s.SharedKey)
	if err != nil {
		return Request{}, fmt.Errorf("decode azure monitor shared key: %w", err)
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	signed.Headers["x-ms-date"] = xMsDate
	signed.Headers["content-type"] = contentType
	signed.Headers["Authorization"] = fmt.Sprintf("SharedKey %s:%s", s.WorkspaceID, signature)

	return signed, nil
}

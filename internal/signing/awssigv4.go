package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redbco/redb-connect/internal/model"
)

// AWSSigV4 signs requests per AWS Signature Version 4. Construction is
// driven entirely by a Connection's Credentials parameter map; see
// SPEC_FULL.md §6 for the JSON shape.
type AWSSigV4 struct {
	Region           string
	Service          string
	AccessKey        string
	SecretKey        string
	DoubleEncode     bool
	CanonicalHeaders []string // lower-cased; sorted by name when signing
}

// NewAWSSigV4 builds an AWSSigV4 signer from a Credentials value object.
func NewAWSSigV4(creds model.Credentials) *AWSSigV4 {
	headers := []string{"x-amz-date", "host"}
	if raw := creds.Param("canonicalHeaders"); raw != "" {
		headers = splitAndTrim(raw)
	}
	doubleEncode := true
	if raw := creds.Param("doubleEncode"); raw == "false" {
		doubleEncode = false
	}
	return &AWSSigV4{
		Region:           creds.Param("region"),
		Service:          creds.Param("service"),
		AccessKey:        creds.Param("accessKey"),
		SecretKey:        creds.Param("secretKey"),
		DoubleEncode:     doubleEncode,
		CanonicalHeaders: headers,
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Sign implements Signer. It is pure and deterministic: the same request,
// credentials and timestamp always produce a byte-identical signed request.
func (s *AWSSigV4) Sign(req Request, timestamp time.Time) (Request, error) {
	signed := req
	signed.Headers = cloneHeaders(req.Headers)

	amzDate := timestamp.UTC().Format("20060102T150405Z")
	dateStamp := amzDate[:8]

	signed.Headers["x-amz-date"] = amzDate
	if signed.Headers["host"] == "" && signed.Host != "" {
		signed.Headers["host"] = signed.Host
	}

	canonicalRequest, signedHeadersStr := s.canonicalRequest(signed)
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, s.Region, s.Service)
	stringToSign := fmt.Sprintf("AWS4-HMAC-SHA256\n%s\n%s\n%s",
		amzDate, scope, hashSHA256Hex(canonicalRequest))

	signingKey := s.deriveSigningKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.AccessKey, scope, signedHeadersStr, signature,
	)
	signed.Headers["Authorization"] = authorization

	return signed, nil
}

// canonicalRequest builds the canonical request string per SPEC_FULL.md
// §4.1 step 2 and returns it alongside the semicolon-joined signed-headers
// list used both in the canonical request and the Authorization header.
func (s *AWSSigV4) canonicalRequest(req Request) (string, string) {
	canonicalURI := s.canonicalURI(req.URI)
	canonicalQuery := s.canonicalQueryString(req.Query)
	canonicalHeaders, signedHeadersStr := s.canonicalHeaders(req)

	hashedPayload := req.Headers["x-amz-content-sha256"]
	if hashedPayload == "" {
		if len(req.Body) > 0 {
			sum := sha256.Sum256(req.Body)
			hashedPayload = hex.EncodeToString(sum[:])
		} else {
			hashedPayload = hashSHA256Hex("")
		}
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeadersStr,
		hashedPayload,
	}, "\n")

	return canonicalRequest, signedHeadersStr
}

// canonicalURI percent-encodes the path. When DoubleEncode is set, it
// encodes twice except for the leading "/" separators, matching AWS's own
// S3-vs-everything-else asymmetry in path encoding.
func (s *AWSSigV4) canonicalURI(uri string) string {
	if uri == "" {
		uri = "/"
	}
	encoded := uriEncodePath(uri)
	if s.DoubleEncode {
		// Encode again, but leave the "/" separators from the first pass
		// untouched: doubleEncode means percent-encode the already-encoded
		// segments a second time, not re-introduce path separators.
		encoded = uriEncodePath(encoded)
	}
	return encoded
}

func (s *AWSSigV4) canonicalQueryString(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, fmt.Sprintf("%s=%s", rfc3986Encode(k), rfc3986Encode(v)))
		}
	}
	return strings.Join(pairs, "&")
}

func (s *AWSSigV4) canonicalHeaders(req Request) (string, string) {
	names := append([]string(nil), s.CanonicalHeaders...)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value := strings.TrimSpace(req.Headers[name])
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(value)
		b.WriteString("\n")
	}
	return b.String(), strings.Join(names, ";")
}

func (s *AWSSigV4) deriveSigningKey(dateStamp string) []byte {
	kSecret := []byte("AWS4" + s.SecretKey)
	kDate := hmacSHA256(kSecret, dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, s.Service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashSHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func rfc3986Encode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	return encoded
}

func uriEncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = rfc3986EncodeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func rfc3986EncodeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if isUnreserved(r) {
			b.WriteRune(r)
		} else {
			b.WriteString(fmt.Sprintf("%%%02X", r))
		}
	}
	return b.String()
}

func isUnreserved(r rune) bool {
	return (r >= 'A' && r <= 'Z') ||
		(r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.' || r == '~'
}

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	SignatureHeader  = "Stripe-Signature"
	SignatureScheme  = "v1"
	DefaultTolerance = 5 * time.Minute
)

// ParsedSignature is the decoded form of a `t=<unix>,v1=<hex>` header.
type ParsedSignature struct {
	Timestamp  int64
	Signatures [][]byte
}

func (p ParsedSignature) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// ParseSignatureHeader accepts several v1 entries (secret rotation) and skips
// schemes it does not know.
func ParseSignatureHeader(header string) (ParsedSignature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ParsedSignature{}, fmt.Errorf("webhooks: signature header is required")
	}
	parsed := ParsedSignature{}
	hasTimestamp := false
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ParsedSignature{}, fmt.Errorf("webhooks: invalid signature timestamp: %w", err)
			}
			parsed.Timestamp = ts
			hasTimestamp = true
		case SignatureScheme:
			decoded, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			parsed.Signatures = append(parsed.Signatures, decoded)
		}
	}
	if !hasTimestamp {
		return ParsedSignature{}, fmt.Errorf("webhooks: signature timestamp is required")
	}
	if len(parsed.Signatures) == 0 {
		return ParsedSignature{}, fmt.Errorf("webhooks: no %s signature in header", SignatureScheme)
	}
	return parsed, nil
}

// ComputeSignature returns HMAC-SHA256(secret, "<timestamp>.<body>").
func ComputeSignature(body []byte, secret []byte, timestamp int64) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHeader builds a valid header value for body signed at the given time.
func SignHeader(body []byte, secret string, at time.Time) string {
	timestamp := at.Unix()
	signature := ComputeSignature(body, []byte(secret), timestamp)
	return fmt.Sprintf("t=%d,%s=%s", timestamp, SignatureScheme, hex.EncodeToString(signature))
}

// ConstantTimeEqual compares every byte and ORs the differences so the
// running time depends only on the length of the inputs.
func ConstantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	return diff == 0 && len(a) == len(b)
}

// Verify reports whether header carries a valid signature of body. It does
// not enforce a timestamp tolerance.
func Verify(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return false
	}
	return matchesAny(ComputeSignature(body, secret, parsed.Timestamp), parsed.Signatures)
}

func matchesAny(expected []byte, candidates [][]byte) bool {
	matched := false
	for _, candidate := range candidates {
		if ConstantTimeEqual(expected, candidate) {
			matched = true
		}
	}
	return matched
}

// SignatureVerifier checks the signature header against the raw body and
// rejects timestamps outside Tolerance. Tolerance 0 disables the check.
type SignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		Secret:    secret,
		Tolerance: tolerance,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (v *SignatureVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := strings.TrimSpace(req.Signature)
	if header == "" {
		header = strings.TrimSpace(headerValue(req.Headers, SignatureHeader))
	}
	return v.VerifyHeader(req.Body, header)
}

func (v *SignatureVerifier) VerifyHeader(body []byte, header string) error {
	if v == nil || strings.TrimSpace(v.Secret) == "" {
		return core.Internal("webhooks: signing secret is not configured", nil)
	}
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return core.WrapSignatureMismatch(err, "webhooks: malformed signature header", nil)
	}
	expected := ComputeSignature(body, []byte(v.Secret), parsed.Timestamp)
	if !matchesAny(expected, parsed.Signatures) {
		return core.SignatureMismatch("webhooks: signature verification failed", nil)
	}
	if v.Tolerance > 0 {
		age := v.now().Sub(parsed.Time())
		if age < 0 {
			age = -age
		}
		if age > v.Tolerance {
			return core.SignatureMismatch("webhooks: signature timestamp outside tolerance", map[string]any{
				"timestamp": parsed.Timestamp,
				"tolerance": v.Tolerance.String(),
			})
		}
	}
	return nil
}

func (v *SignatureVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return value
	}
	for current, value := range headers {
		if strings.EqualFold(strings.TrimSpace(current), strings.TrimSpace(key)) {
			return value
		}
	}
	return ""
}

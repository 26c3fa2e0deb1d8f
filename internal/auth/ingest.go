package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Ingest signature headers. The signature is hex(HMAC-SHA256(secret, timestamp + "\n" + body)),
// optionally prefixed with "sha256=".
const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"
)

const maxSignedBodyBytes = 1 << 20

// IngestAuthMiddleware rejects station requests whose signature does not verify.
type IngestAuthMiddleware struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware. A zero maxSkew
// disables the freshness check.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{secret: secret, maxSkew: maxSkew, now: time.Now}
}

// Wrap verifies the signature and hands next an unread copy of the body.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBodyBytes))
		if err != nil {
			writeAuthError(w, http.StatusBadRequest, "read body error")
			return
		}
		_ = r.Body.Close()

		err = VerifyIngest(m.secret, r.Header.Get(HeaderIngestTimestamp), r.Header.Get(HeaderIngestSignature), body, m.now(), m.maxSkew)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// VerifyIngest checks a station signature against body at now.
func VerifyIngest(secret []byte, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(signature)), "sha256=")
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Join(ErrBadSignature, err)
	}
	if maxSkew > 0 {
		skew := now.Sub(time.Unix(seconds, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return ErrSignatureStale
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(secret, timestamp, body))) {
		return ErrBadSignature
	}
	return nil
}

// SignIngest computes the signature a station sends for body at timestamp.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

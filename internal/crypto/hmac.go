package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by an authenticated feed handshake.
const (
	HeaderKey       = "X-Cyclearb-Key"
	HeaderTimestamp = "X-Cyclearb-Timestamp"
	HeaderSignature = "X-Cyclearb-Signature"
)

// HMACAuth holds the credentials for HMAC-authenticated requests to a quote
// feed.
type HMACAuth struct {
	Key    string // API key, sent in the clear
	Secret string // signing secret
}

// Headers returns the handshake headers for a request. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path)).
func (h *HMACAuth) Headers(method, path string) http.Header {
	return h.HeadersAt(method, path, time.Now().Unix())
}

// HeadersAt is like Headers but takes the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, unixTS int64) http.Header {
	ts := strconv.FormatInt(unixTS, 10)
	out := http.Header{}
	out.Set(HeaderKey, h.Key)
	out.Set(HeaderTimestamp, ts)
	out.Set(HeaderSignature, Sign([]byte(h.Secret), ts+method+path))
	return out
}

// Verify reports whether headers carry a valid signature for method and path
// made with secret. Receivers use it; the comparison is constant time.
func Verify(secret []byte, method, path string, headers http.Header) bool {
	ts := headers.Get(HeaderTimestamp)
	if ts == "" {
		return false
	}
	want := Sign(secret, ts+method+path)
	return hmac.Equal([]byte(want), []byte(headers.Get(HeaderSignature)))
}

// Sign computes HMAC-SHA256 of message using key and returns it base64
// encoded.
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

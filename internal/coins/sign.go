package coins

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/reelhouse/reelhouse/internal/httputil"
)

const maxSignedBodyBytes = 64 * 1024

// SignatureHeader carries the HMAC-SHA256 of the request body, hex encoded.
const SignatureHeader = "X-Ledger-Signature"

// SignPayload computes the signature expected in SignatureHeader.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// readSignedBody reads and authenticates the body of a service-internal
// request. On failure it writes the error response and returns ok=false.
func readSignedBody(w http.ResponseWriter, r *http.Request, secret string) ([]byte, bool) {
	if secret == "" {
		httputil.WriteError(w, http.StatusNotFound, "endpoint disabled")
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}

	if !verifySignature(secret, body, r.Header.Get(SignatureHeader)) {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return nil, false
	}

	return body, true
}

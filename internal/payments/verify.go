package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrVerificationFailed means the gateway signature did not check out; the
// "paid" signal is untrusted and must never reach paymentStatus=completed.
var ErrVerificationFailed = errors.New("payment verification failed")

// Verifier checks the gateway's HMAC-SHA256 signature over
// "orderID|paymentID" with the shared secret.
type Verifier struct {
	Secret string
}

func (v Verifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v Verifier) Verify(orderID, paymentID, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

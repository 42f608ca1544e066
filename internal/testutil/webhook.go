package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SignWebhook builds a gateway signature header (t=<unix>,v1=<hex hmac>) for
// payload.
func SignWebhook(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// IntentEvent renders a payment intent event the way the gateway posts it.
func IntentEvent(eventID, eventType, transactionID string, amount int64, extra string) []byte {
	intent := fmt.Sprintf(`{"id":%q,"object":"payment_intent","amount":%d,"currency":"usd"%s}`, transactionID, amount, extra)
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, eventID, eventType, intent))
}

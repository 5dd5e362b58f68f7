package feed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials holds API credentials for authenticated subscriptions.
// Secret is the base64-encoded API secret as issued by the exchange.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// sign adds the exchange's subscribe-authentication fields to msg: an
// HMAC-SHA256 over "<timestamp>GET/users/self/verify" keyed with the
// decoded secret.
func (c *Credentials) sign(msg map[string]any) error {
	secret, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("decode api secret: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "GET/users/self/verify"))

	msg["signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	msg["key"] = c.Key
	msg["passphrase"] = c.Passphrase
	msg["timestamp"] = timestamp
	return nil
}

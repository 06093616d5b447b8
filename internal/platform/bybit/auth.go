package bybit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/crypto"
)

// authExpiry is how far in the future a websocket auth request expires.
const authExpiry = 10 * time.Second

// Auth holds API credentials for private websocket channels.
type Auth struct {
	Key    string
	Secret string
}

// Empty reports whether no credentials were configured.
func (a Auth) Empty() bool { return a.Key == "" || a.Secret == "" }

// Sign returns the hex HMAC-SHA256 of payload keyed by the secret.
func (a Auth) Sign(payload string) string {
	return crypto.HMACSHA256Hex(a.Secret, payload)
}

// WSAuthArgs returns the arguments of an "auth" command issued at now:
// the key, the expiry in unix milliseconds and the signature of
// "GET/realtime{expires}".
func (a Auth) WSAuthArgs(now time.Time) (key string, expires int64, signature string) {
	expires = now.Add(authExpiry).UnixMilli()
	return a.Key, expires, a.Sign("GET/realtime" + strconv.FormatInt(expires, 10))
}

// AuthCommand builds the auth frame for now.
func (a Auth) AuthCommand(now time.Time) Command {
	key, expires, sig := a.WSAuthArgs(now)
	return Command{Op: "auth", Args: []any{key, expires, sig}}
}

// String returns a redacted representation suitable for logging.
func (a Auth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Auth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}

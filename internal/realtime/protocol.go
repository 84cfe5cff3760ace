package realtime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
)

// Pusher-compatible protocol constants.
const (
	ProtocolVersion = 7
	ClientName      = "scanner-app"
	ClientVersion   = "1.0"

	EventConnectionEstablished = "pusher:connection_established"
	EventSubscribe             = "pusher:subscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"

	clientEventPrefix = "client-"
)

// Envelope is the wire framing shared by every relay message.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// handshakeData is carried by pusher:connection_established. The relay
// double-encodes it: Data is a JSON string that itself contains JSON.
type handshakeData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// subscribeData is the body of an outbound pusher:subscribe.
type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

// decodeNested unmarshals envelope data that may be double-encoded.
func decodeNested(raw json.RawMessage, v interface{}) error {
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		return json.Unmarshal([]byte(nested), v)
	}
	return json.Unmarshal(raw, v)
}

// ChannelAuth derives the signed channel authorization for one connection:
// key + ":" + hex(HMAC-SHA256(secret, socketID + ":" + channel)). The socket
// id is server-assigned per connection, so the signature can never be cached
// across reconnects.
func ChannelAuth(key, secret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(socketID + ":" + channel))
	return key + ":" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyChannelAuth checks a signature produced by ChannelAuth. Used by the
// relay simulator.
func VerifyChannelAuth(auth, key, secret, socketID, channel string) bool {
	return hmac.Equal([]byte(auth), []byte(ChannelAuth(key, secret, socketID, channel)))
}

// subscribeEnvelope builds the outbound subscription request.
func subscribeEnvelope(channel, auth string) (Envelope, error) {
	data, err := json.Marshal(subscribeData{Channel: channel, Auth: auth})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode subscribe data: %w", err)
	}
	return Envelope{Event: EventSubscribe, Data: data}, nil
}

// pingEnvelope is the outbound heartbeat.
func pingEnvelope() Envelope {
	return Envelope{Event: EventPing, Data: json.RawMessage(`{}`)}
}

// pongEnvelope answers a relay-initiated ping.
func pongEnvelope() Envelope {
	return Envelope{Event: EventPong, Data: json.RawMessage(`{}`)}
}

// ConnectURL assembles the relay websocket endpoint for a configuration.
func ConnectURL(cfg Config) string {
	scheme := "ws"
	if cfg.UseTLS {
		scheme = "wss"
	}
	query := url.Values{}
	query.Set("protocol", fmt.Sprintf("%d", ProtocolVersion))
	query.Set("client", ClientName)
	query.Set("version", ClientVersion)

	return fmt.Sprintf("%s://%s:%d/app/%s?%s", scheme, cfg.Host, cfg.Port, url.PathEscape(cfg.Key), query.Encode())
}

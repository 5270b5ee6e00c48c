package channel

import (
	"encoding/json"
)

// Envelope is the wire frame used in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound command names
const (
	CommandBid          = "bid"
	CommandStartAuction = "startAuction"
	CommandNextPlayer   = "nextPlayer"
	CommandSellPlayer   = "sellPlayer"
	CommandRequestState = "requestState"
)

// encodeFrame wraps payload in an envelope
func encodeFrame(event string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// decodeFrame unwraps an inbound envelope. A missing data member decodes as {}.
func decodeFrame(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage(`{}`)
	}
	return env, nil
}

package relay

import (
	"encoding/json"
	"fmt"

	"peanutpal/internal/proto"
)

// Relays speak JSON array frames: ["EVENT", env] and ["REQ", id, filter]
// client-to-relay, ["EVENT", id, env], ["OK", eventID, ok, msg] and
// ["EOSE", id] relay-to-client.

func eventFrame(env proto.Envelope) []byte {
	b, _ := json.Marshal([]any{"EVENT", env})
	return b
}

func reqFrame(subID string, f proto.Filter) []byte {
	b, _ := json.Marshal([]any{"REQ", subID, f})
	return b
}

func closeFrame(subID string) []byte {
	b, _ := json.Marshal([]any{"CLOSE", subID})
	return b
}

type inboundFrame struct {
	kind string

	// EVENT
	subID string
	env   proto.Envelope

	// OK
	eventID  string
	accepted bool
	reason   string
}

func parseFrame(raw []byte) (inboundFrame, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return inboundFrame{}, err
	}
	if len(arr) == 0 {
		return inboundFrame{}, fmt.Errorf("empty frame")
	}

	var kind string
	if err := json.Unmarshal(arr[0], &kind); err != nil {
		return inboundFrame{}, err
	}

	f := inboundFrame{kind: kind}
	switch kind {
	case "EVENT":
		if len(arr) != 3 {
			return inboundFrame{}, fmt.Errorf("EVENT frame with %d elements", len(arr))
		}
		if err := json.Unmarshal(arr[1], &f.subID); err != nil {
			return inboundFrame{}, err
		}
		if err := json.Unmarshal(arr[2], &f.env); err != nil {
			return inboundFrame{}, err
		}
	case "OK":
		if len(arr) < 3 {
			return inboundFrame{}, fmt.Errorf("OK frame with %d elements", len(arr))
		}
		if err := json.Unmarshal(arr[1], &f.eventID); err != nil {
			return inboundFrame{}, err
		}
		if err := json.Unmarshal(arr[2], &f.accepted); err != nil {
			return inboundFrame{}, err
		}
		if len(arr) > 3 {
			_ = json.Unmarshal(arr[3], &f.reason)
		}
	case "EOSE":
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &f.subID)
		}
	}
	return f, nil
}

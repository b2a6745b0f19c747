package api

import (
	"fmt"
	"net/url"
	"strconv"
)

// PostbackData is the decoded tap payload: an action discriminator and a
// reference to the broadcast message (and block) the tap came from.
type PostbackData struct {
	Action    string
	MessageID uint
	Block     int
}

// ParsePostbackData decodes the URL-encoded key-value payload carried by a
// postback event. Unknown or extra keys are tolerated; a missing or
// malformed message reference is not.
func ParsePostbackData(data string) (*PostbackData, error) {
	values, err := url.ParseQuery(data)
	if err != nil {
		return nil, fmt.Errorf("ParsePostbackData: %w", err)
	}

	out := &PostbackData{Action: values.Get("action"), Block: -1}
	if out.Action == "" {
		return nil, fmt.Errorf("ParsePostbackData: missing action")
	}

	messageID, err := strconv.ParseUint(values.Get("message_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ParsePostbackData: bad message_id %q", values.Get("message_id"))
	}
	out.MessageID = uint(messageID)

	if raw := values.Get("block"); raw != "" {
		block, err := strconv.Atoi(raw)
		if err == nil {
			out.Block = block
		}
	}
	return out, nil
}

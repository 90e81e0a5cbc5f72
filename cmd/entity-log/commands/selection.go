package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// Selection holds the event selection flags shared by view, filter and
// export, in their string form.
type Selection struct {
	Layer      string
	Direction  string
	Category   string
	ConnID     string
	ExchangeID string
	ClientID   string
	Type       string
	TimeStart  string
	TimeEnd    string
}

// Filter converts s into a log.Filter.
func (s Selection) Filter() (log.Filter, error) {
	f := log.Filter{
		ConnectionID: s.ConnID,
		ExchangeID:   s.ExchangeID,
	}

	if s.Layer != "" {
		l, err := log.ParseLayer(s.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if s.Direction != "" {
		d, err := log.ParseDirection(s.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if s.Category != "" {
		c, err := log.ParseCategory(s.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if s.ClientID != "" {
		id, err := strconv.ParseUint(s.ClientID, 10, 24)
		if err != nil {
			return f, fmt.Errorf("invalid client-id %q: %w", s.ClientID, err)
		}
		v := uint32(id)
		f.ClientID = &v
	}
	if s.Type != "" {
		t, err := parseMessageType(s.Type)
		if err != nil {
			return f, err
		}
		f.MessageType = &t
	}
	if s.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, s.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if s.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, s.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	return f, nil
}

var messageTypes = []wire.MessageType{
	wire.MsgAuthHello,
	wire.MsgSessionKeyReq,
	wire.MsgAuthResponse,
	wire.MsgAuthAlert,
	wire.MsgClientSessionRequest,
	wire.MsgClientPing,
}

// parseMessageType accepts a type name such as AUTH_ALERT (any case) or
// its number.
func parseMessageType(s string) (wire.MessageType, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return wire.MessageType(n), nil
	}
	for _, t := range messageTypes {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid frame type: %s", s)
}

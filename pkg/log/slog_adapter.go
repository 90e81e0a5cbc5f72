package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors capture events into an slog.Logger. Error events are
// logged at Warn; everything else at the adapter's level, Debug unless
// changed with SetLevel.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

var _ Logger = (*SlogAdapter)(nil)

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// SetLevel changes the level of non-error events. Call it before the
// adapter is shared.
func (a *SlogAdapter) SetLevel(l slog.Level) {
	a.level = l
}

func (a *SlogAdapter) Log(e Event) {
	level := a.level
	if e.Category == CategoryError {
		level = slog.LevelWarn
	}

	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, "capture "+e.Layer.String(), eventAttrs(e)...)
}

// eventAttrs flattens the envelope and nests the payload in a group named
// after its kind.
func eventAttrs(e Event) []slog.Attr {
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("conn", e.ConnectionID),
		slog.String("dir", e.Direction.String()),
		slog.String("category", e.Category.String()),
	)
	if e.RemoteAddr != "" {
		attrs = append(attrs, slog.String("peer", e.RemoteAddr))
	}
	if e.ExchangeID != "" {
		attrs = append(attrs, slog.String("exchange", e.ExchangeID))
	}
	if e.ClientID != nil {
		attrs = append(attrs, slog.Uint64("client", uint64(*e.ClientID)))
	}

	if g, ok := payloadGroup(e); ok {
		attrs = append(attrs, g)
	}
	return attrs
}

func payloadGroup(e Event) (slog.Attr, bool) {
	var (
		name string
		args []any
	)
	switch {
	case e.Frame != nil:
		name = "frame"
		args = []any{slog.Int("size", e.Frame.Size)}
		if e.Frame.Truncated {
			args = append(args, slog.Bool("truncated", true))
		}
	case e.Message != nil:
		m := e.Message
		name = "message"
		args = []any{slog.String("type", m.Type.String()), slog.Int("payload", m.PayloadSize)}
		if m.Purpose != "" {
			args = append(args, slog.String("purpose", m.Purpose))
		}
		if m.Alert != nil {
			args = append(args, slog.String("alert", m.Alert.String()))
		}
		if m.Duration != nil {
			args = append(args, slog.Duration("took", *m.Duration))
		}
	case e.StateChange != nil:
		s := e.StateChange
		name = "state"
		args = []any{slog.String("of", s.Entity.String()), slog.String("to", s.NewState)}
		if s.OldState != "" {
			args = append(args, slog.String("from", s.OldState))
		}
		if s.Reason != "" {
			args = append(args, slog.String("reason", s.Reason))
		}
	case e.Error != nil:
		name = "err"
		args = []any{slog.String("layer", e.Error.Layer.String()), slog.String("text", e.Error.Message)}
		if e.Error.Context != "" {
			args = append(args, slog.String("during", e.Error.Context))
		}
		if e.Error.Code != nil {
			args = append(args, slog.Int("code", *e.Error.Code))
		}
	default:
		return slog.Attr{}, false
	}
	return slog.Group(name, args...), true
}

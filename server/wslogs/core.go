// Package wslogs forwards zap log entries to WebSocket clients.
package wslogs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WebSocketCore is a zap core that hands every enabled entry to a Transport.
// Combine it with the regular output using zapcore.NewTee or Tee.
type WebSocketCore struct {
	zapcore.LevelEnabler
	transport *Transport
	fields    []zapcore.Field
}

// NewWebSocketCore creates a core that sends entries at or above level to transport
func NewWebSocketCore(level zapcore.LevelEnabler, transport *Transport) *WebSocketCore {
	return &WebSocketCore{LevelEnabler: level, transport: transport}
}

// Tee returns log with its entries also sent to transport.
func Tee(log *zap.SugaredLogger, level zapcore.LevelEnabler, transport *Transport) *zap.SugaredLogger {
	ws := NewWebSocketCore(level, transport)
	return log.Desugar().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, ws)
	})).Sugar()
}

// With returns a core carrying fields on every entry (zap interface)
func (c *WebSocketCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &WebSocketCore{LevelEnabler: c.LevelEnabler, transport: c.transport, fields: merged}
}

// Check adds this core to the entry if its level is enabled (zap interface)
func (c *WebSocketCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write sends the entry to the transport (zap interface). Never blocks.
func (c *WebSocketCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) || c.transport == nil {
		return nil
	}
	all := fields
	if len(c.fields) > 0 {
		all = append(append(make([]zapcore.Field, 0, len(c.fields)+len(fields)), c.fields...), fields...)
	}
	c.transport.Send(FromZapEntry(entry, all))
	return nil
}

// Sync is a no-op; entries are handed off as they are written (zap interface)
func (c *WebSocketCore) Sync() error {
	return nil
}

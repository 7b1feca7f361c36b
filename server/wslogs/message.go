package wslogs

import (
	"math"
	"time"

	"go.uber.org/zap/zapcore"
)

// Message is one log entry as sent to WebSocket clients
type Message struct {
	Level     string                 `json:"level"` // "debug", "info", "warn", "error"
	Timestamp time.Time              `json:"timestamp"`
	Logger    string                 `json:"logger"` // e.g. "server", "server.archive"
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// FromZapEntry converts a zap entry and its fields into a Message
func FromZapEntry(entry zapcore.Entry, fields []zapcore.Field) Message {
	var fieldsMap map[string]interface{}
	if len(fields) > 0 {
		fieldsMap = make(map[string]interface{}, len(fields))
	}

	for _, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			fieldsMap[f.Key] = f.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			fieldsMap[f.Key] = f.Integer
		case zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			fieldsMap[f.Key] = uint64(f.Integer)
		case zapcore.Float64Type:
			fieldsMap[f.Key] = math.Float64frombits(uint64(f.Integer))
		case zapcore.Float32Type:
			fieldsMap[f.Key] = float64(math.Float32frombits(uint32(f.Integer)))
		case zapcore.BoolType:
			fieldsMap[f.Key] = f.Integer == 1
		case zapcore.DurationType:
			fieldsMap[f.Key] = time.Duration(f.Integer).String()
		case zapcore.TimeType:
			fieldsMap[f.Key] = time.Unix(0, f.Integer).UTC().Format(time.RFC3339Nano)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				fieldsMap[f.Key] = err.Error()
			}
		default:
			fieldsMap[f.Key] = f.Interface
		}
	}

	return Message{
		Level:     entry.Level.String(),
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
		Message:   entry.Message,
		Fields:    fieldsMap,
	}
}

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ObjectMarshaller is implemented by types that know how to append their own
// fields to a log event. It keeps hot-path logging allocation-free compared
// to reflection-based marshalling.
type ObjectMarshaller interface {
	MarshalLogObj(e *LogEvent)
}

// LogEvent is a single in-flight log line built with a fluent field API and
// finished with Msg/Msgf. Events are pooled by the owning logger; a nil
// *LogEvent (returned when the level is disabled) is safe to call methods on,
// so call sites never need level guards.
//
// Example:
//
//	log.Info().Str("target", target).Int("pending", n).Msg("queued message")
type LogEvent struct {
	buf    bytes.Buffer
	level  Level
	logger Logger
}

func newEvent(logger Logger) *LogEvent {
	e := &LogEvent{logger: logger}
	e.buf.Grow(256)
	e.buf.WriteByte('{')
	return e
}

// Reset prepares a pooled event for reuse.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.buf.WriteByte('{')
}

// Level returns the severity this event will be written at.
func (e *LogEvent) Level() Level {
	if e == nil {
		return InfoLevel
	}
	return e.level
}

// Buffer exposes the serialized bytes accumulated so far.
// Appenders receive exactly these bytes when the event ends.
func (e *LogEvent) Buffer() *bytes.Buffer {
	return &e.buf
}

func (e *LogEvent) appendKey(key string) {
	if e.buf.Len() > 1 {
		e.buf.WriteByte(',')
	}
	e.buf.WriteString(strconv.Quote(key))
	e.buf.WriteByte(':')
}

// Str appends a string field.
func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.Quote(val))
	return e
}

// Strs appends a string-slice field.
func (e *LogEvent) Strs(key string, vals []string) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.buf.WriteString(strconv.Quote(v))
	}
	e.buf.WriteByte(']')
	return e
}

// Int appends an int field.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	return e.Int64(key, int64(val))
}

// Int64 appends an int64 field.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	b := e.buf.AvailableBuffer()
	e.buf.Write(strconv.AppendInt(b, val, 10))
	return e
}

// Uint32 appends a uint32 field.
func (e *LogEvent) Uint32(key string, val uint32) *LogEvent {
	return e.Uint64(key, uint64(val))
}

// Uint64 appends a uint64 field.
func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	b := e.buf.AvailableBuffer()
	e.buf.Write(strconv.AppendUint(b, val, 10))
	return e
}

// Float64 appends a float field.
func (e *LogEvent) Float64(key string, val float64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	b := e.buf.AvailableBuffer()
	e.buf.Write(strconv.AppendFloat(b, val, 'g', -1, 64))
	return e
}

// Bool appends a bool field.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	b := e.buf.AvailableBuffer()
	e.buf.Write(strconv.AppendBool(b, val))
	return e
}

// Dur appends a duration field, rendered in Go's duration syntax.
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Str(key, val.String())
}

// Time appends a timestamp field in RFC3339 with nanoseconds.
func (e *LogEvent) Time(key string, val *time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Str(key, val.Format(time.RFC3339Nano))
}

// Err appends the conventional "error" field. A nil error is a no-op so call
// sites can log unconditionally.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	return e.Str("error", err.Error())
}

// Any appends an arbitrary value as JSON. Falls back to fmt formatting when
// the value cannot be marshalled (cycles, channels, ...).
func (e *LogEvent) Any(key string, val any) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	data, err := json.Marshal(val)
	if err != nil {
		e.buf.WriteString(strconv.Quote(fmt.Sprint(val)))
		return e
	}
	e.buf.Write(data)
	return e
}

// Obj lets the value append its own fields via ObjectMarshaller.
func (e *LogEvent) Obj(m ObjectMarshaller) *LogEvent {
	if e == nil || m == nil {
		return e
	}
	m.MarshalLogObj(e)
	return e
}

// Msg finishes the event with a message and hands it to the logger's
// appenders. The event must not be used after Msg returns.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	e.appendKey("msg")
	e.buf.WriteString(strconv.Quote(msg))
	e.buf.WriteByte('}')
	e.buf.WriteByte('\n')
	e.logger.OnEventEnd(e)
}

// Msgf finishes the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}

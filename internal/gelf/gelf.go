// Package gelf ships structured log lines to a Graylog input over UDP.
package gelf

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Writer sends one GELF message per JSON log line it is given. It implements
// zapcore.WriteSyncer so it can back a zap core directly.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

// Write converts a zap JSON line ({"level":..,"ts":..,"msg":..,...}) to GELF.
// Unknown keys become additional fields. Send errors are dropped.
func (w *Writer) Write(p []byte) (int, error) {
	payload, err := w.Message(p)
	if err != nil {
		return len(p), nil
	}
	w.conn.Write(payload)
	return len(p), nil
}

// Message builds the GELF payload for one JSON log line.
func (w *Writer) Message(line []byte) ([]byte, error) {
	doc := gjson.ParseBytes(line)

	msg := map[string]any{
		"version":       "1.1",
		"host":          w.hostname,
		"short_message": doc.Get("msg").String(),
		"level":         syslogLevel(doc.Get("level").String()),
		"_service":      w.service,
	}
	if ts := doc.Get("ts"); ts.Exists() {
		msg["timestamp"] = ts.Float()
	}
	if st := doc.Get("stacktrace"); st.Exists() {
		msg["full_message"] = st.String()
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); k {
		case "msg", "level", "ts", "stacktrace":
		default:
			// GELF reserves "_id".
			if k == "id" {
				k = "field_id"
			}
			msg["_"+k] = fieldValue(value)
		}
		return true
	})
	return json.Marshal(msg)
}

// Sync is a no-op: UDP sends are not buffered.
func (w *Writer) Sync() error { return nil }

func (w *Writer) Close() error { return w.conn.Close() }

// GELF additional fields must be strings or numbers.
func fieldValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

func syslogLevel(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return 7
	case "info":
		return 6
	case "warn":
		return 4
	case "error":
		return 3
	case "dpanic", "panic":
		return 2
	case "fatal":
		return 1
	}
	return 6
}

package kafkax

import (
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderSchemaVersion = "schema_version"
)

// EventMeta is the envelope metadata carried in Kafka headers next to the JSON payload.
type EventMeta struct {
	EventID       string
	EventType     string
	SchemaVersion string
}

// Headers renders m as Kafka headers, skipping empty fields.
func (m EventMeta) Headers() []kafka.Header {
	var out []kafka.Header
	for _, kv := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderSchemaVersion, m.SchemaVersion},
	} {
		if kv[1] != "" {
			out = append(out, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return out
}

// ExtractEventMeta reads the envelope from msg, falling back to the message key for the
// id and the topic for the type when headers are missing.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		SchemaVersion: HeaderValue(msg.Headers, HeaderSchemaVersion),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// HeaderValue returns the last value of key, since later headers override earlier ones.
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

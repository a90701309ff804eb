package parse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EventType identifies one of the recognized moon mining notifications.
type EventType string

const (
	EventExtractionStarted   EventType = "ExtractionStarted"
	EventExtractionCancelled EventType = "ExtractionCancelled"
	EventExtractionFinished  EventType = "ExtractionFinished"
	EventAutomaticFracture   EventType = "AutomaticFracture"
	EventLaserFired          EventType = "LaserFired"
)

// providerTypePrefix is carried by the raw feed and stripped before matching.
const providerTypePrefix = "Moonmining"

// Notification is one raw record from the upstream notification feed. Text
// is the provider payload: a YAML document whose shape varies by type.
type Notification struct {
	ID        int64
	Type      string
	Timestamp time.Time
	Text      string
}

// Event is a parsed, typed moon mining notification. Optional numeric fields
// are zero when absent from the payload; optional times are the zero time.
type Event struct {
	NotificationID int64
	Type           EventType
	Timestamp      time.Time

	StructureID   int64
	MoonID        int64
	SolarSystemID int64

	// ReadyTime takes part in the extraction identity key and is truncated
	// to whole seconds; the feed carries sub-second jitter across surveys.
	ReadyTime time.Time
	AutoTime  time.Time

	StartedBy  int64
	CanceledBy int64
	FiredBy    int64

	OreVolumeByType map[int64]float64
}

// ParseError reports a malformed or missing required payload field. The
// affected event is dropped; a ParseError is never fatal to a batch.
type ParseError struct {
	NotificationID int64
	Field          string
	Reason         string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("notification %d: field %q: %s", e.NotificationID, e.Field, e.Reason)
}

// ParseNotification decodes one raw notification into an Event. It is a pure
// function; unknown notification types and malformed required fields yield a
// *ParseError.
func ParseNotification(n Notification) (Event, error) {
	eventType, ok := eventTypeOf(n.Type)
	if !ok {
		return Event{}, &ParseError{NotificationID: n.ID, Field: "type", Reason: fmt.Sprintf("unrecognized notification type %q", n.Type)}
	}

	var payload map[string]any
	if err := yaml.Unmarshal([]byte(n.Text), &payload); err != nil {
		return Event{}, &ParseError{NotificationID: n.ID, Field: "text", Reason: fmt.Sprintf("payload is not valid YAML: %v", err)}
	}

	structureID, ok := payloadInt64(payload, "structureID")
	if !ok || structureID <= 0 {
		return Event{}, &ParseError{NotificationID: n.ID, Field: "structureID", Reason: "missing or not a positive integer"}
	}

	event := Event{
		NotificationID: n.ID,
		Type:           eventType,
		Timestamp:      n.Timestamp,
		StructureID:    structureID,
	}
	event.MoonID, _ = payloadInt64(payload, "moonID")
	event.SolarSystemID, _ = payloadInt64(payload, "solarSystemID")

	if ticks, ok := payloadInt64(payload, "readyTime"); ok {
		event.ReadyTime = fromNTTicks(ticks).Truncate(time.Second)
	}
	if ticks, ok := payloadInt64(payload, "autoTime"); ok {
		event.AutoTime = fromNTTicks(ticks).Truncate(time.Second)
	}

	event.StartedBy, _ = payloadInt64(payload, "startedBy")
	event.CanceledBy, _ = payloadInt64(payload, "cancelledBy")
	event.FiredBy, _ = payloadInt64(payload, "firedBy")

	if eventType == EventExtractionStarted {
		if event.ReadyTime.IsZero() {
			return Event{}, &ParseError{NotificationID: n.ID, Field: "readyTime", Reason: "required for " + string(eventType)}
		}
		if event.AutoTime.IsZero() {
			return Event{}, &ParseError{NotificationID: n.ID, Field: "autoTime", Reason: "required for " + string(eventType)}
		}
		ores, ok := payloadOreVolumes(payload, "oreVolumeByType")
		if !ok {
			return Event{}, &ParseError{NotificationID: n.ID, Field: "oreVolumeByType", Reason: "missing or malformed"}
		}
		event.OreVolumeByType = ores
	} else if ores, ok := payloadOreVolumes(payload, "oreVolumeByType"); ok {
		// Finished and fracture notifications repeat the yield; keep it.
		event.OreVolumeByType = ores
	}

	return event, nil
}

func eventTypeOf(raw string) (EventType, bool) {
	switch EventType(strings.TrimPrefix(raw, providerTypePrefix)) {
	case EventExtractionStarted:
		return EventExtractionStarted, true
	case EventExtractionCancelled:
		return EventExtractionCancelled, true
	case EventExtractionFinished:
		return EventExtractionFinished, true
	case EventAutomaticFracture:
		return EventAutomaticFracture, true
	case EventLaserFired:
		return EventLaserFired, true
	}
	return "", false
}

// payloadInt64 reads an integer payload value. YAML decoding is not strongly
// typed, so every plausible numeric representation is accepted.
func payloadInt64(payload map[string]any, key string) (int64, bool) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return 0, false
	}
	return anyToInt64(raw)
}

func anyToInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func anyToFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// payloadOreVolumes reads the oreVolumeByType mapping. Depending on the YAML
// document the keys arrive as strings or integers.
func payloadOreVolumes(payload map[string]any, key string) (map[int64]float64, bool) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return nil, false
	}

	ores := make(map[int64]float64)
	switch m := raw.(type) {
	case map[string]any:
		for k, v := range m {
			typeID, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
			if err != nil {
				return nil, false
			}
			volume, ok := anyToFloat64(v)
			if !ok || volume < 0 {
				return nil, false
			}
			ores[typeID] = volume
		}
	case map[any]any:
		for k, v := range m {
			typeID, ok := anyToInt64(k)
			if !ok {
				return nil, false
			}
			volume, ok := anyToFloat64(v)
			if !ok || volume < 0 {
				return nil, false
			}
			ores[typeID] = volume
		}
	default:
		return nil, false
	}
	return ores, true
}

package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"campusguard/internal/model"
)

var ErrMissingSubject = errors.New("ingest: scan event missing subject id")

// ParseScanBytes decodes one JSON scan event.
func ParseScanBytes(data []byte) (model.ScanEvent, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return model.ScanEvent{}, err
	}
	return ParseScanMap(obj)
}

// ParseScanMap maps a loosely-keyed JSON object onto a scan event. Badge
// systems disagree on field names, so common aliases are accepted.
func ParseScanMap(obj map[string]interface{}) (model.ScanEvent, error) {
	fields := make(map[string]string, len(obj))
	for key, val := range obj {
		fields[strings.ToLower(key)] = fmt.Sprint(val)
	}

	ev := model.ScanEvent{
		SubjectID:  firstNonEmpty(fields, "subject_id", "student_id", "subject", "student", "badge", "uid", "card_id"),
		LocationID: firstNonEmpty(fields, "location_id", "location", "door", "reader_id", "reader", "terminal"),
	}
	if ev.SubjectID == "" {
		return model.ScanEvent{}, ErrMissingSubject
	}

	ev.Timestamp = parseTimestamp(firstNonEmpty(fields, "timestamp", "time", "ts"))
	ev.Result = parseResult(firstNonEmpty(fields, "result", "status", "outcome", "granted"))
	return ev, nil
}

func firstNonEmpty(fields map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return v
			}
		}
	}
	return ""
}

// parseTimestamp accepts RFC3339 or unix seconds; anything else returns the
// zero time, which the engine clamps to now.
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func parseResult(raw string) model.Result {
	switch strings.ToLower(raw) {
	case "granted", "success", "ok", "allow", "allowed", "true":
		return model.ResultGranted
	case "denied", "failure", "fail", "deny", "rejected", "false":
		return model.ResultDenied
	default:
		return ""
	}
}

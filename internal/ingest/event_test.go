package ingest

import (
	"errors"
	"testing"
	"time"

	"campusguard/internal/model"
)

func TestParseScanMapAliases(t *testing.T) {
	cases := []map[string]interface{}{
		{"subject_id": "s1", "location_id": "LAB", "timestamp": "2024-03-06T12:00:00Z", "result": "granted"},
		{"student_id": "s1", "door": "LAB", "time": "2024-03-06T12:00:00Z", "status": "success"},
		{"badge": "s1", "reader_id": "LAB", "ts": "2024-03-06T12:00:00Z", "granted": "true"},
	}
	want := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	for i, obj := range cases {
		ev, err := ParseScanMap(obj)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if ev.SubjectID != "s1" || ev.LocationID != "LAB" {
			t.Fatalf("case %d: ids wrong: %+v", i, ev)
		}
		if !ev.Timestamp.Equal(want) {
			t.Fatalf("case %d: timestamp wrong: %v", i, ev.Timestamp)
		}
		if ev.Result != model.ResultGranted {
			t.Fatalf("case %d: result wrong: %s", i, ev.Result)
		}
	}
}

func TestParseScanMapMissingSubject(t *testing.T) {
	_, err := ParseScanMap(map[string]interface{}{"location_id": "LAB"})
	if !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestParseScanMapUnixTimestamp(t *testing.T) {
	ev, err := ParseScanMap(map[string]interface{}{"subject_id": "s1", "ts": "1709726400"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("unix timestamp not parsed")
	}
	if got := ev.Timestamp.Unix(); got != 1709726400 {
		t.Fatalf("unexpected unix time %d", got)
	}
}

func TestParseScanMapDeniedResult(t *testing.T) {
	ev, err := ParseScanMap(map[string]interface{}{"subject_id": "s1", "outcome": "denied"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Result != model.ResultDenied {
		t.Fatalf("expected denied, got %q", ev.Result)
	}
}

func TestParseScanMapUnknownFieldsIgnored(t *testing.T) {
	ev, err := ParseScanMap(map[string]interface{}{
		"Subject_ID": "s1",
		"firmware":   "v2",
		"result":     "whatever",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.SubjectID != "s1" {
		t.Fatalf("mixed-case key not matched: %+v", ev)
	}
	if ev.Result != "" {
		t.Fatalf("unknown result value must map to empty, got %q", ev.Result)
	}
	if !ev.Timestamp.IsZero() {
		t.Fatalf("missing timestamp must stay zero")
	}
}

func TestParseScanBytes(t *testing.T) {
	ev, err := ParseScanBytes([]byte(`{"card_id": "s9", "terminal": "GATE-2", "result": "deny"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.SubjectID != "s9" || ev.LocationID != "GATE-2" || ev.Result != model.ResultDenied {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, err := ParseScanBytes([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

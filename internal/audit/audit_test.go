package audit

import (
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)

	l.Record("agent_connected", "dev-1", "", "", "")
	l.Record("session_opened", "dev-1", "s1", "alice", "")
	l.Record("session_closed", "dev-1", "s1", "", "terminal disconnected")

	events, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Most recent first
	if events[0].Kind != "session_closed" || events[2].Kind != "agent_connected" {
		t.Errorf("unexpected ordering: %v, %v", events[0].Kind, events[2].Kind)
	}
	if events[1].UserID != "alice" || events[1].SessionID != "s1" {
		t.Errorf("unexpected event fields: %+v", events[1])
	}
}

func TestRecentLimit(t *testing.T) {
	l := openTestLog(t)
	for i := 0; i < 10; i++ {
		l.Record("session_opened", "dev-1", "s", "u", "")
	}

	events, err := l.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events, got %d", len(events))
	}

	// Out-of-range limits fall back to the default
	if _, err := l.Recent(-1); err != nil {
		t.Errorf("negative limit should use default: %v", err)
	}
}

func TestPrune(t *testing.T) {
	l := openTestLog(t)

	old := Event{Kind: "session_opened", DeviceID: "dev-1", CreatedAt: time.Now().Add(-48 * time.Hour)}
	if err := l.db.Create(&old).Error; err != nil {
		t.Fatalf("insert old event: %v", err)
	}
	l.Record("session_opened", "dev-1", "s1", "alice", "")

	n, err := l.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}

	events, _ := l.Recent(10)
	if len(events) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(events))
	}
}

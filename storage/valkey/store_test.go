package valkey

import (
	"testing"
	"time"

	"github.com/ssoguard/ssoguard/storage"
)

func TestStore_KeyNaming(t *testing.T) {
	s := &Store{prefix: "sso:"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"counter", s.counterKey("login:ip:1.2.3.4"), "sso:counter:login:ip:1.2.3.4"},
		{"cache", s.cacheKey("corr-1"), "sso:corr:cache:corr-1"},
		{"correlation log", s.correlationLogKey("corr-1"), "sso:corr:log:corr-1"},
		{"time index", s.timeIndexKey(), "sso:corr:index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() should fail without an address")
	}
}

func TestRecordJSON_PreservesCreationOrderFields(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &storage.CorrelationRecord{
		EventID:       "AUTH_SUSPICIOUS_LOGIN",
		Severity:      "warning",
		ActorUserID:   "user-1",
		CorrelationID: "corr-1",
		CreatedAt:     created,
		IngestedAt:    created.Add(time.Second),
	}

	back := fromRecordJSON(toRecordJSON(rec))

	if !back.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", back.CreatedAt, created)
	}
	if back.EventID != rec.EventID || back.Severity != rec.Severity {
		t.Errorf("identity fields lost: %+v", back)
	}
	if back.CorrelationID != rec.CorrelationID {
		t.Errorf("CorrelationID = %q, want %q", back.CorrelationID, rec.CorrelationID)
	}
}

func TestTopCounts_OrderAndCap(t *testing.T) {
	counts := map[string]int{
		"A": 3, "B": 1, "C": 3, "D": 7,
	}

	top := topCounts(counts, 3)

	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	if top[0].EventID != "D" {
		t.Errorf("top[0] = %+v, want D x7", top[0])
	}
	// Equal counts break ties by event ID.
	if top[1].EventID != "A" || top[2].EventID != "C" {
		t.Errorf("tie order = %s, %s, want A, C", top[1].EventID, top[2].EventID)
	}
}

package domain

import "testing"

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobSent, JobFailed, JobCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobPending, JobProcessing, JobRetry} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if JobStatus("bogus").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestJobStatus_CanTransition(t *testing.T) {
	all := []JobStatus{JobPending, JobProcessing, JobRetry, JobSent, JobFailed, JobCancelled}
	allowed := map[JobStatus]map[JobStatus]bool{
		JobPending:    {JobProcessing: true},
		JobRetry:      {JobProcessing: true},
		JobProcessing: {JobSent: true, JobRetry: true, JobFailed: true, JobCancelled: true},
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestInboundMessage_Helpers(t *testing.T) {
	m := InboundMessage{
		From:     "bob@Example.com",
		Headers:  map[string]string{"Auto-Submitted": "auto-replied"},
		LabelIDs: []string{"INBOX", "UNREAD"},
	}
	if m.Header("auto-submitted") != "auto-replied" || m.Header("Precedence") != "" {
		t.Fatalf("Header lookup unexpected")
	}
	if !m.HasLabel("inbox") || m.HasLabel("SENT") {
		t.Fatalf("HasLabel unexpected")
	}
	if m.SenderDomain() != "example.com" {
		t.Fatalf("SenderDomain = %q", m.SenderDomain())
	}
	if (InboundMessage{From: "broken@"}).SenderDomain() != "" {
		t.Fatalf("SenderDomain must be empty for malformed address")
	}
}

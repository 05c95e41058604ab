package correlator

import (
	"testing"
	"time"
)

func TestSubmitAllocatesDistinctIDs(t *testing.T) {
	c := New()
	a := c.Submit("client-1", "hi", "BMAD-METHOD", []string{"m1"})
	b := c.Submit("client-1", "hi", "BMAD-METHOD", []string{"m1"})
	if a.ID == b.ID {
		t.Fatalf("two submissions share id %s", a.ID)
	}
	if c.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", c.Pending())
	}
}

func TestRecordResponseCompletesEntry(t *testing.T) {
	c := New()
	req := c.Submit("client-1", "hi", "fw", []string{"m1", "m2"})

	known, done := c.RecordResponse(req.ID, "m1")
	if !known || done {
		t.Errorf("first response: known=%v done=%v, want true,false", known, done)
	}
	known, done = c.RecordResponse(req.ID, "m2")
	if !known || !done {
		t.Errorf("final response: known=%v done=%v, want true,true", known, done)
	}
	if c.Pending() != 0 {
		t.Errorf("completed entry not released, Pending = %d", c.Pending())
	}
}

func TestRecordResponseOrphan(t *testing.T) {
	c := New()

	known, done := c.RecordResponse("chat_unknown", "m1")
	if known || done {
		t.Errorf("orphan request id: known=%v done=%v, want false,false", known, done)
	}

	// A response from an adapter that was never asked is also an orphan.
	req := c.Submit("client-1", "hi", "fw", []string{"m1"})
	known, _ = c.RecordResponse(req.ID, "m9")
	if known {
		t.Error("unassigned adapter's response should not be tallied")
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

func TestFailPendingSettlesDebtsOnce(t *testing.T) {
	c := New()
	r1 := c.Submit("client-1", "one", "fw", []string{"m1", "m2"})
	r2 := c.Submit("client-1", "two", "fw", []string{"m1"})
	if _, done := c.RecordResponse(r1.ID, "m1"); done {
		t.Fatal("r1 should still be waiting on m2")
	}

	owed := c.FailPending("m1")
	if len(owed) != 1 || owed[0].ID != r2.ID {
		t.Errorf("owed = %v, want only %s", owed, r2.ID)
	}

	// r2 had only m1; failing it settles the request entirely.
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1 (r1 waiting on m2)", c.Pending())
	}

	// Settled debts are not reported twice.
	if again := c.FailPending("m1"); len(again) != 0 {
		t.Errorf("second FailPending returned %v, want none", again)
	}
}

func TestReap(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }

	req := c.Submit("client-1", "hi", "fw", []string{"m1", "m2"})
	c.RecordResponse(req.ID, "m1")

	// Not yet expired.
	if expired := c.Reap(time.Minute); len(expired) != 0 {
		t.Fatalf("premature reap: %v", expired)
	}

	now = now.Add(2 * time.Minute)
	expired := c.Reap(time.Minute)
	if len(expired) != 1 {
		t.Fatalf("reaped %d entries, want 1", len(expired))
	}
	if expired[0].Request.ID != req.ID {
		t.Errorf("reaped %s, want %s", expired[0].Request.ID, req.ID)
	}
	if len(expired[0].Unanswered) != 1 || expired[0].Unanswered[0] != "m2" {
		t.Errorf("Unanswered = %v, want [m2]", expired[0].Unanswered)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after reap, want 0", c.Pending())
	}
}

func TestReapDisabled(t *testing.T) {
	c := New()
	c.Submit("client-1", "hi", "fw", nil)
	if expired := c.Reap(0); expired != nil {
		t.Errorf("Reap(0) = %v, want nil", expired)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

func TestEmptyTargetSetNeverCompletes(t *testing.T) {
	c := New()
	req := c.Submit("client-1", "hi", "fw", nil)

	// No expected responders: nothing can complete it, only the reaper
	// can release it.
	if _, done := c.RecordResponse(req.ID, "m1"); done {
		t.Error("request with no targets must not complete")
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

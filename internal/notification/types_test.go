package notification

import "testing"

func TestPriorityRank(t *testing.T) {
	t.Parallel()

	order := []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s rank %d not above %s rank %d", order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if got := Priority("bogus").Rank(); got != 0 {
		t.Fatalf("unknown priority rank = %d, want 0", got)
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusScheduled, true},
		{StatusPending, StatusSent, true},
		{StatusScheduled, StatusSent, true},
		{StatusScheduled, StatusAggregated, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusSent, StatusPending, false},
		{StatusRead, StatusSent, false},
		{StatusBlocked, StatusSent, false},
		{StatusAggregated, StatusSent, false},
		{StatusFailed, StatusPending, false},
		{StatusScheduled, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	n := Notification{ID: "n1", Status: StatusPending}
	for _, s := range []Status{StatusScheduled, StatusSent, StatusDelivered, StatusRead} {
		if err := n.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	if n.Status != StatusRead {
		t.Fatalf("status = %s, want read", n.Status)
	}

	if err := n.Transition(StatusPending); err == nil {
		t.Fatalf("backwards transition from read succeeded")
	}
	if n.Status != StatusRead {
		t.Fatalf("failed transition mutated status to %s", n.Status)
	}
	// Same-state moves are a no-op, not an error.
	if err := n.Transition(StatusRead); err != nil {
		t.Fatalf("self transition: %v", err)
	}
}

func TestDerivePriority(t *testing.T) {
	t.Parallel()

	g := Group{Notifications: []Notification{
		{Prio: PriorityLow},
		{Prio: PriorityCritical},
		{Prio: PriorityMedium},
	}}
	g.DerivePriority()
	if g.Prio != PriorityCritical {
		t.Fatalf("group priority = %s, want critical", g.Prio)
	}

	empty := Group{}
	empty.DerivePriority()
	if empty.Prio != PriorityLow {
		t.Fatalf("empty group priority = %s, want low", empty.Prio)
	}
}

package orchestration

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-group/core/payloads"
)

func newTestRouter(t *testing.T, groupID string, channels ...*recordingChannel) *BroadcastRouter {
	t.Helper()

	registry := NewGroupRegistry(nil)
	clients := newClientDirectory()
	registry.withGroup(groupID, true, func(g *GroupState) {
		for _, ch := range channels {
			clients.add(ch)
			clients.join(ch.id, groupID)
			g.members[ch.id] = struct{}{}
		}
	})
	return newBroadcastRouter(registry, clients, nil)
}

func TestSendToGroupExcludesOriginator(t *testing.T) {
	a, b, c := newRecordingChannel("A"), newRecordingChannel("B"), newRecordingChannel("C")
	router := newTestRouter(t, "G", a, b, c)

	delivered := router.SendToGroup("G", payloads.NewControl(payloads.ControlChainStart), "B")
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	if len(a.received()) != 1 || len(b.received()) != 0 || len(c.received()) != 1 {
		t.Fatalf("unexpected deliveries: A=%d B=%d C=%d", len(a.received()), len(b.received()), len(c.received()))
	}

	if delivered := router.SendToGroup("missing", payloads.NewControl(payloads.ControlChainStart), ""); delivered != 0 {
		t.Fatalf("unknown group should receive nothing, got %d", delivered)
	}
}

func TestSendToGroupIsolatesFailingMember(t *testing.T) {
	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	router := newTestRouter(t, "G", a, b)
	a.setFailing()

	if delivered := router.SendToGroup("G", payloads.NewError("oops"), ""); delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if a.Alive() {
		t.Fatalf("failing member should be marked dead")
	}
	if groups := groupsOf(router.clients, "A"); len(groups) != 0 {
		t.Fatalf("failing member should have left the group, still in %v", groups)
	}

	// The dead member is no longer addressed.
	if delivered := router.SendToGroup("G", payloads.NewError("again"), ""); delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(b.received()) != 2 {
		t.Fatalf("healthy member should receive everything, got %d", len(b.received()))
	}
}

func TestSendIfCurrentDropsOtherGenerations(t *testing.T) {
	a := newRecordingChannel("A")
	router := newTestRouter(t, "G", a)
	router.registry.withGroup("G", false, func(g *GroupState) { g.generation = 3 })

	if router.SendIfCurrent("G", 2, payloads.NewControl(payloads.ControlChainEnd), "") {
		t.Fatalf("stale generation must not be delivered")
	}
	if !router.SendIfCurrent("G", 3, payloads.NewControl(payloads.ControlChainEnd), "") {
		t.Fatalf("current generation should be delivered")
	}
	if len(a.received()) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(a.received()))
	}
}

func TestSendToOne(t *testing.T) {
	a := newRecordingChannel("A")
	router := newTestRouter(t, "G", a)

	if err := router.SendToOne("A", payloads.NewControl(payloads.ControlChainStart)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := router.SendToOne("nobody", payloads.NewControl(payloads.ControlChainStart))
	var sendErr *SendError
	if !errors.As(err, &sendErr) || !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected a SendError wrapping ErrUnknownClient, got %v", err)
	}

	a.setFailing()
	if err := router.SendToOne("A", payloads.NewControl(payloads.ControlChainEnd)); err == nil {
		t.Fatalf("expected a send error")
	}
	if a.Alive() {
		t.Fatalf("failing channel should be marked dead")
	}
}

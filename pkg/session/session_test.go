package session

import "testing"

func TestAddMessageTrimsToHistoryLimit(t *testing.T) {
	s := New(2)
	s.AddMessage(RoleSystem, "be nice")
	s.AddMessage(RoleUser, "one")
	s.AddMessage(RoleAgent, "two")
	s.AddMessage(RoleUser, "three")

	ctx := s.ContextCopy()
	if len(ctx) != 2 {
		t.Fatalf("expected history trimmed to 2, got %d", len(ctx))
	}
	if ctx[len(ctx)-1].Content != "three" {
		t.Fatalf("expected most recent message kept, got %q", ctx[len(ctx)-1].Content)
	}
}

func TestClearHistoryKeepsSystemMessages(t *testing.T) {
	s := New(10)
	s.AddMessage(RoleSystem, "be nice")
	s.AddMessage(RoleUser, "hello")
	s.ClearHistory()

	ctx := s.ContextCopy()
	if len(ctx) != 1 || ctx[0].Role != RoleSystem {
		t.Fatalf("expected only system message to survive, got %+v", ctx)
	}
}

func TestAppendTurnUpdatesRunningAverage(t *testing.T) {
	s := New(10)
	s.AppendTurn(Turn{Latency: LatencyBreakdown{Total: 100}})
	s.AppendTurn(Turn{Latency: LatencyBreakdown{Total: 300}})

	if avg := s.AverageTotalLatencyMS(); avg != 200 {
		t.Fatalf("expected average 200, got %d", avg)
	}
}

func TestLastAgentRepliesOrderedOldestFirst(t *testing.T) {
	s := New(10)
	s.AddMessage(RoleUser, "hi")
	s.AddMessage(RoleAgent, "a1")
	s.AddMessage(RoleUser, "hi2")
	s.AddMessage(RoleAgent, "a2")
	s.AddMessage(RoleAgent, "a3")

	replies := s.LastAgentReplies(2)
	if len(replies) != 2 || replies[0] != "a2" || replies[1] != "a3" {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

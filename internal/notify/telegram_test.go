package notify

import (
	"testing"

	"go.uber.org/zap"
)

func TestTelegramDeliverRequiresLinkedChat(t *testing.T) {
	n := &TelegramNotifier{}
	if err := n.Deliver(0, "hello"); err == nil {
		t.Fatal("expected error for unlinked chat")
	}
}

func TestLogNotifierDeliver(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	if err := n.Deliver(12345, "Episode 1 of Something airing soon"); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
}

package litepcie_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fairwaves/xtrx/litepcie"
)

func TestLoopbackMovesSubmittedSlots(t *testing.T) {
	l := litepcie.NewLoopback(4, 8)
	l.EnableDMA(litepcie.RX, true)
	l.EnableDMA(litepcie.TX, true)
	copy(l.Ring(litepcie.TX)[8:16], "abcdefgh")
	l.Tag(litepcie.TX, 1, litepcie.SlotMeta{EndBurst: true})
	// slot 0 is submitted empty, slot 1 carries the payload
	if err := l.Update(litepcie.TX, 2); err != nil {
		t.Fatal(err)
	}
	hw, _, _ := l.Counters(litepcie.RX)
	if hw != 2 {
		t.Fatalf("expected 2 rx slots, got %d", hw)
	}
	if !bytes.Equal(l.Ring(litepcie.RX)[8:16], []byte("abcdefgh")) {
		t.Errorf("rx slot 1 holds %q", l.Ring(litepcie.RX)[8:16])
	}
	if !l.SlotTag(litepcie.RX, 1).EndBurst {
		t.Error("slot tag was not carried to rx")
	}
}

func TestLoopbackHoldStallsReader(t *testing.T) {
	l := litepcie.NewLoopback(2, 4)
	l.EnableDMA(litepcie.TX, true)
	l.Hold(true)
	l.Update(litepcie.TX, 2)
	if hw, _, _ := l.Counters(litepcie.TX); hw != 0 {
		t.Errorf("held reader advanced to %d", hw)
	}
	l.Hold(false)
	if hw, _, _ := l.Counters(litepcie.TX); hw != 2 {
		t.Errorf("released reader at %d, expected 2", hw)
	}
}

func TestLoopbackWaitTimesOutAndCancels(t *testing.T) {
	l := litepcie.NewLoopback(2, 4)
	ok, err := l.Wait(context.Background(), litepcie.RX, time.Millisecond)
	if ok || err != nil {
		t.Errorf("expected a plain timeout, got %v %v", ok, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Wait(ctx, litepcie.RX, time.Second); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

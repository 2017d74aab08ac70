package syncbarrier

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCompleteOpensWhenBothDone(t *testing.T) {
	b := New(true, []string{"a", "b"}, 0)
	var released int32
	b.OnRelease(func() { atomic.StoreInt32(&released, 1) })

	if ready := b.Complete("a", 0, 0); ready {
		t.Fatal("barrier should not open after only one of two participants completes")
	}
	if ready := b.Complete("b", 0, 0); !ready {
		t.Fatal("barrier should open once both participants complete")
	}
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&released) != 1 {
		t.Fatal("onRelease callback should have fired")
	}
}

func TestSoftModeNeverBlocks(t *testing.T) {
	b := New(false, []string{"a", "b", "c"}, 0)
	if ready := b.Complete("a", 0, 0); !ready {
		t.Fatal("soft mode should always report ready")
	}
}

func TestLeftCompletesBarrier(t *testing.T) {
	b := New(true, []string{"a", "b"}, 0)
	var released int32
	b.OnRelease(func() { atomic.StoreInt32(&released, 1) })

	b.Complete("a", 0, 0)
	b.Left("b")
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&released) != 1 {
		t.Fatal("departing participant should unblock the barrier")
	}
}

func TestResetClearsPriorCompletion(t *testing.T) {
	b := New(true, []string{"a", "b"}, 0)
	b.Complete("a", 0, 0)
	b.Reset([]string{"a", "b"}, 0, 1)
	if ready := b.Complete("a", 0, 1); ready {
		t.Fatal("barrier for the new set should not open until both participants complete it")
	}
}

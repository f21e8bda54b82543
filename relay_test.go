package relay

import "testing"

type fakePool struct{ resetCalls int }

func (f *fakePool) Reset() { f.resetCalls++ }

func TestOnForkResetsRegisteredPool(t *testing.T) {
	p := &fakePool{}
	RegisterPool(p)
	defer RegisterPool(nil)

	OnFork()
	if p.resetCalls != 1 {
		t.Errorf("resetCalls = %d, want 1", p.resetCalls)
	}
}

func TestOnForkIsNoopWithoutRegisteredPool(t *testing.T) {
	RegisterPool(nil)
	OnFork() // must not panic
}

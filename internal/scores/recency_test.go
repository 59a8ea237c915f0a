package scores

import "testing"

func TestRecencyBufferSetGet(t *testing.T) {
	b := NewRecencyBuffer[int]()
	if _, ok := b.Get("a"); ok {
		t.Error("empty buffer returned a value")
	}
	b.Set("a", 1)
	if v, ok := b.Get("a"); !ok || v != 1 {
		t.Errorf("got (%d,%v), want (1,true)", v, ok)
	}
}

func TestRecencyBufferSurvivesOneRoll(t *testing.T) {
	b := NewRecencyBuffer[int]()
	b.Set("a", 1)
	b.Roll()
	if v, ok := b.Get("a"); !ok || v != 1 {
		t.Fatal("value must survive one roll via the previous generation")
	}
	b.Roll()
	if _, ok := b.Get("a"); ok {
		t.Error("value must be gone after two rolls without refresh")
	}
}

func TestRecencyBufferRefreshPromotes(t *testing.T) {
	b := NewRecencyBuffer[string]()
	b.Set("k", "v")
	b.Roll()
	b.Refresh("k")
	b.Roll()
	if v, ok := b.Get("k"); !ok || v != "v" {
		t.Error("refresh must keep the entry alive across the next roll")
	}
}

// roll(); refresh(k); roll() preserves get(k) exactly when get(k) was
// defined before the first roll.
func TestRecencyBufferIdempotence(t *testing.T) {
	defined := NewRecencyBuffer[int]()
	defined.Set("k", 7)
	defined.Roll()
	defined.Refresh("k")
	defined.Roll()
	if v, ok := defined.Get("k"); !ok || v != 7 {
		t.Error("defined key must be preserved through roll-refresh-roll")
	}

	undefined := NewRecencyBuffer[int]()
	undefined.Roll()
	undefined.Refresh("k")
	undefined.Roll()
	if _, ok := undefined.Get("k"); ok {
		t.Error("undefined key must stay undefined through roll-refresh-roll")
	}
}

func TestRecencyBufferSetOverridesPrevious(t *testing.T) {
	b := NewRecencyBuffer[int]()
	b.Set("k", 1)
	b.Roll()
	b.Set("k", 2)
	if v, _ := b.Get("k"); v != 2 {
		t.Errorf("current generation must win, got %d", v)
	}
	b.Roll()
	if v, _ := b.Get("k"); v != 2 {
		t.Errorf("latest value must survive the roll, got %d", v)
	}
}

func TestRecencyBufferDelete(t *testing.T) {
	b := NewRecencyBuffer[int]()
	b.Set("k", 1)
	b.Roll()
	b.Set("k", 2)
	b.Delete("k")
	if _, ok := b.Get("k"); ok {
		t.Error("delete must remove both generations")
	}
}

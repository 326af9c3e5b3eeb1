package cooldown

import (
	"testing"
	"time"

	"snapkeep/internal/snapkeep"
	"snapkeep/internal/testutil"
)

func TestCache_Expiry(t *testing.T) {
	clock := testutil.FixedClock()
	c := New(clock, nil)

	c.Set("a.ts", snapkeep.LevelProtected, 100*time.Millisecond, "blocked", "")
	if !c.IsInCooldown("a.ts", snapkeep.LevelProtected) {
		t.Fatal("IsInCooldown() = false right after Set")
	}
	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", c.Size())
	}

	clock.Advance(150 * time.Millisecond)

	if c.IsInCooldown("a.ts", snapkeep.LevelProtected) {
		t.Error("IsInCooldown() = true after expiry")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d after reading an expired entry, want 0", c.Size())
	}
}

func TestCache_KeyedByLevel(t *testing.T) {
	c := New(testutil.FixedClock(), nil)

	c.Set("a.ts", snapkeep.LevelWarning, time.Minute, "warned", "")
	if c.IsInCooldown("a.ts", snapkeep.LevelProtected) {
		t.Error("cooldown for one level must not apply to another")
	}
	if !c.IsInCooldown("a.ts", snapkeep.LevelWarning) {
		t.Error("IsInCooldown() = false for the level that was set")
	}
}

func TestCache_GetAndRemainingTime(t *testing.T) {
	clock := testutil.FixedClock()
	c := New(clock, nil)

	set := c.Set("a.ts", snapkeep.LevelWatch, time.Minute, "snapshot", "snap-1-000001")
	clock.Advance(20 * time.Second)

	got, ok := c.Get("a.ts", snapkeep.LevelWatch)
	if !ok {
		t.Fatal("Get() = not found")
	}
	if got != set {
		t.Errorf("Get() = %+v, want %+v", got, set)
	}
	if rem := c.RemainingTime("a.ts", snapkeep.LevelWatch); rem != 40*time.Second {
		t.Errorf("RemainingTime() = %v, want 40s", rem)
	}
	if rem := c.RemainingTime("b.ts", snapkeep.LevelWatch); rem != 0 {
		t.Errorf("RemainingTime() for unknown = %v, want 0", rem)
	}
}

func TestCache_SetRestartsWindow(t *testing.T) {
	clock := testutil.FixedClock()
	c := New(clock, nil)

	c.Set("a.ts", snapkeep.LevelWatch, time.Second, "x", "")
	clock.Advance(900 * time.Millisecond)
	c.Set("a.ts", snapkeep.LevelWatch, time.Second, "x", "")
	clock.Advance(900 * time.Millisecond)

	if !c.IsInCooldown("a.ts", snapkeep.LevelWatch) {
		t.Error("re-Set should restart the window")
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := New(testutil.FixedClock(), nil)
	c.Set("a", snapkeep.LevelWatch, time.Minute, "", "")
	c.Set("b", snapkeep.LevelWatch, time.Minute, "", "")

	if !c.Remove("a", snapkeep.LevelWatch) {
		t.Error("Remove() = false for present entry")
	}
	if c.Remove("a", snapkeep.LevelWatch) {
		t.Error("Remove() = true for absent entry")
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}

func TestCache_RemoveExpiredAndAll(t *testing.T) {
	clock := testutil.FixedClock()
	c := New(clock, nil)

	c.Set("short", snapkeep.LevelWatch, time.Second, "", "")
	c.Set("long", snapkeep.LevelWatch, time.Hour, "", "")
	c.Set("medium", snapkeep.LevelWatch, time.Minute, "", "")
	clock.Advance(2 * time.Second)

	all := c.All()
	if len(all) != 2 || all[0].FilePath != "medium" || all[1].FilePath != "long" {
		t.Errorf("All() = %+v, want medium then long", all)
	}
	if c.Size() != 3 {
		t.Errorf("All() must not evict, Size() = %d", c.Size())
	}

	if n := c.RemoveExpired(); n != 1 {
		t.Errorf("RemoveExpired() = %d, want 1", n)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestCache_Sweep(t *testing.T) {
	clock := testutil.FixedClock()
	c := New(clock, nil)
	c.Set("a", snapkeep.LevelWatch, time.Millisecond, "", "")
	clock.Advance(time.Second)

	c.Start(5 * time.Millisecond)
	c.Start(5 * time.Millisecond)
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for c.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep did not evict expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Stop()
	c.Stop()
}

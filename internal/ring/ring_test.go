package ring

import (
	"reflect"
	"testing"
)

func TestPushWithinCapacity(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		if evicted := b.Push(i); evicted {
			t.Fatalf("Push(%d) evicted before buffer was full", i)
		}
	}
	if got := b.Items(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("Items() = %v, want [1 2 3]", got)
	}
}

func TestPushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 7; i++ {
		b.Push(i)
		if b.Len() > b.Cap() {
			t.Fatalf("Len %d exceeds Cap %d", b.Len(), b.Cap())
		}
	}
	if got := b.Items(); !reflect.DeepEqual(got, []int{5, 6, 7}) {
		t.Errorf("Items() = %v, want [5 6 7]", got)
	}
	if b.Total() != 7 {
		t.Errorf("Total() = %d, want 7", b.Total())
	}
}

func TestRetainsMostRecentInOrder(t *testing.T) {
	const capacity = 10
	for n := 0; n < 35; n++ {
		b := New[int](capacity)
		for i := 0; i < n; i++ {
			b.Push(i)
		}
		got := b.Items()
		keep := n
		if keep > capacity {
			keep = capacity
		}
		if len(got) != keep {
			t.Fatalf("n=%d: len = %d, want %d", n, len(got), keep)
		}
		for i, v := range got {
			if want := n - keep + i; v != want {
				t.Fatalf("n=%d: item[%d] = %d, want %d", n, i, v, want)
			}
		}
	}
}

func TestLast(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.Push(s)
	}
	if got := b.Last(2); !reflect.DeepEqual(got, []string{"d", "e"}) {
		t.Errorf("Last(2) = %v", got)
	}
	if got := b.Last(10); !reflect.DeepEqual(got, []string{"b", "c", "d", "e"}) {
		t.Errorf("Last(10) = %v", got)
	}
	if got := b.Last(0); len(got) != 0 {
		t.Errorf("Last(0) = %v, want empty", got)
	}
}

func TestItemsIsCopy(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	items := b.Items()
	items[0] = 99
	if b.Items()[0] != 1 {
		t.Error("mutating Items() result changed the buffer")
	}
}

func TestReset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()
	if b.Len() != 0 || b.Total() != 0 {
		t.Errorf("after Reset Len=%d Total=%d", b.Len(), b.Total())
	}
	b.Push(4)
	if got := b.Items(); !reflect.DeepEqual(got, []int{4}) {
		t.Errorf("Items() after Reset+Push = %v", got)
	}
}

func TestEachStops(t *testing.T) {
	b := New[int](5)
	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	var seen []int
	b.Each(func(v int) bool {
		seen = append(seen, v)
		return v < 2
	})
	if !reflect.DeepEqual(seen, []int{0, 1, 2}) {
		t.Errorf("Each visited %v", seen)
	}
}

func TestTail(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	even := func(v int) bool { return v%2 == 0 }
	if got := Tail(items, even, 2); !reflect.DeepEqual(got, []int{4, 6}) {
		t.Errorf("Tail(even, 2) = %v", got)
	}
	if got := Tail(items, nil, 0); !reflect.DeepEqual(got, items) {
		t.Errorf("Tail(nil, 0) = %v", got)
	}
}

func TestNonPositiveCapacity(t *testing.T) {
	b := New[int](0)
	b.Push(1)
	b.Push(2)
	if b.Cap() != 1 || !reflect.DeepEqual(b.Items(), []int{2}) {
		t.Errorf("Cap=%d Items=%v", b.Cap(), b.Items())
	}
}

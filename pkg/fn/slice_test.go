package fn

import (
	"context"
	"reflect"
	"strconv"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		n     int
		items []int
		want  [][]int
	}{
		{100, make([]int, 250), nil}, // sizes checked below
		{3, []int{1, 2, 3, 4, 5}, [][]int{{1, 2, 3}, {4, 5}}},
		{5, []int{1, 2}, [][]int{{1, 2}}},
		{0, []int{1}, nil},
		{2, nil, nil},
	}

	got := Chunk(tests[0].items, tests[0].n)
	if len(got) != 3 || len(got[0]) != 100 || len(got[1]) != 100 || len(got[2]) != 50 {
		t.Errorf("250/100 should chunk as [100 100 50], got lens %d", len(got))
	}

	for _, tt := range tests[1:] {
		if got := Chunk(tt.items, tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Chunk(%v, %d) = %v, want %v", tt.items, tt.n, got, tt.want)
		}
	}
}

func TestMapFilterReduce(t *testing.T) {
	nums := []int{1, 2, 3, 4}
	strs := Map(nums, strconv.Itoa)
	if !reflect.DeepEqual(strs, []string{"1", "2", "3", "4"}) {
		t.Errorf("Map: %v", strs)
	}
	evens := Filter(nums, func(n int) bool { return n%2 == 0 })
	if !reflect.DeepEqual(evens, []int{2, 4}) {
		t.Errorf("Filter: %v", evens)
	}
	sum := Reduce(nums, 0, func(acc, n int) int { return acc + n })
	if sum != 10 {
		t.Errorf("Reduce: %d", sum)
	}
}

func TestGroupByAndUnique(t *testing.T) {
	words := []string{"aa", "b", "cc", "d"}
	groups := GroupBy(words, func(s string) int { return len(s) })
	if len(groups[1]) != 2 || len(groups[2]) != 2 {
		t.Errorf("GroupBy: %v", groups)
	}
	if got := Unique([]int{1, 2, 1, 3, 2}); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("Unique: %v", got)
	}
}

func TestThenShortCircuits(t *testing.T) {
	first := func(_ context.Context, in int) Result[int] { return Errf[int]("fail") }
	second := func(_ context.Context, in int) Result[string] {
		t.Fatal("second stage must not run")
		return Ok("")
	}
	r := Then(first, second)(context.Background(), 1)
	if !r.IsErr() {
		t.Fatal("expected error")
	}
}

func TestPipeline(t *testing.T) {
	double := MapStage(func(n int) int { return n * 2 })
	inc := MapStage(func(n int) int { return n + 1 })
	v, err := Pipeline(double, inc, double)(context.Background(), 3).Unwrap()
	if err != nil || v != 14 {
		t.Fatalf("got (%d, %v)", v, err)
	}
}

package numa

import "testing"

func TestNodeCount(t *testing.T) {
	t.Run("AtLeastOne", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()

		n := NodeCount()
		if n < 1 {
			t.Fatalf("NodeCount() = %d, want >= 1", n)
		}
	})

	t.Run("Cached", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()

		first := NodeCount()
		second := NodeCount()
		if first != second {
			t.Fatalf("NodeCount() not stable across calls: %d then %d", first, second)
		}
	})
}

func TestClampNode(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	n := NodeCount()

	t.Run("Negative", func(t *testing.T) {
		if got := ClampNode(-1); got != 0 {
			t.Errorf("ClampNode(-1) = %d, want 0", got)
		}
	})

	t.Run("InRange", func(t *testing.T) {
		if got := ClampNode(0); got != 0 {
			t.Errorf("ClampNode(0) = %d, want 0", got)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		got := ClampNode(n)
		if got < 0 || got >= n {
			t.Errorf("ClampNode(%d) = %d, want in [0, %d)", n, got, n)
		}
	})
}

func TestCurrentNode(t *testing.T) {
	node := CurrentNode()
	n := NodeCount()
	if node < 0 || node >= n {
		t.Errorf("CurrentNode() = %d, want in [0, %d)", node, n)
	}
}

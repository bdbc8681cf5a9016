package history

import "testing"

func TestSplitSumsExactly(t *testing.T) {
	for total := int64(0); total <= 1000; total++ {
		provider, platform := Split(total)
		if provider+platform != total {
			t.Fatalf("Split(%d): %d + %d != %d", total, provider, platform, total)
		}
		if provider < 0 || platform < 0 {
			t.Fatalf("Split(%d) produced a negative share", total)
		}
	}
}

func TestSplitProviderQuarter(t *testing.T) {
	cases := []struct {
		total, provider int64
	}{
		{0, 0},
		{4, 1},
		{100, 25},
		{1000, 250},
		{7, 1},  // rounds down, remainder to the platform
		{99, 24},
	}
	for _, c := range cases {
		provider, platform := Split(c.total)
		if provider != c.provider {
			t.Fatalf("Split(%d) provider = %d, want %d", c.total, provider, c.provider)
		}
		if platform != c.total-c.provider {
			t.Fatalf("Split(%d) platform = %d, want %d", c.total, platform, c.total-c.provider)
		}
	}
}

package bloomfilter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(10000, 0.01)

	listed := []string{
		"10.0.0.1", "10.0.0.2", "10.0.0.3",
		"192.168.1.100", "192.168.1.101",
		"172.16.0.50",
	}
	for _, ip := range listed {
		f.Add(ip)
	}
	for _, ip := range listed {
		assert.True(t, f.Contains(ip), "address %s should be found", ip)
	}
	assert.Equal(t, len(listed), f.Count())
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("in-%d", i))
	}

	var fp int
	for i := 0; i < 10000; i++ {
		if f.Contains(fmt.Sprintf("out-%d", i)) {
			fp++
		}
	}
	assert.Less(t, float64(fp)/10000, 0.05)
	t.Logf("false positives: %d of 10000", fp)
}

func TestFilter_FillRatio(t *testing.T) {
	f := New(100, 0.01)
	assert.Equal(t, 0.0, f.FillRatio())
	assert.Equal(t, 0.0, f.EstimatedFPRate())

	for i := 0; i < 50; i++ {
		f.Add(fmt.Sprintf("item%d", i))
	}
	assert.Greater(t, f.FillRatio(), 0.0)
	assert.Less(t, f.EstimatedFPRate(), 0.1)
}

func TestSizing(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		p     float64
		wantM uint64
		wantK uint64
	}{
		{"one percent", 1000, 0.01, 9586, 7},
		{"default n", 0, 0.01, 9586, 7},
		{"default p", 1000, 0, 9586, 7},
		{"p out of range", 1000, 1.5, 9586, 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, k := Sizing(tc.n, tc.p)
			assert.Equal(t, tc.wantM, m)
			assert.Equal(t, tc.wantK, k)
		})
	}
}

func BenchmarkFilter_Contains(b *testing.B) {
	f := New(100000, 0.01)
	for i := 0; i < 10000; i++ {
		f.Add(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Contains("203.0.113.7")
	}
}

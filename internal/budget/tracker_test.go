package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_FiresOncePerThreshold(t *testing.T) {
	d := NewDimension(100, 0.8, 0.9)

	v := d.Record(50)
	assert.Equal(t, Info, v.Severity)
	assert.False(t, v.AlreadyNotified)

	v = d.Record(35) // total 85 -> crosses warn (0.8)
	assert.Equal(t, Warning, v.Severity)
	assert.False(t, v.AlreadyNotified)
	assert.InDelta(t, 0.85, v.FractionUsed, 0.0001)

	v = d.Record(1) // total 86, still only warn crossed
	assert.True(t, v.AlreadyNotified)

	v = d.Record(10) // total 96 -> crosses confirm (0.9)
	assert.Equal(t, ConfirmationRequired, v.Severity)
	assert.False(t, v.AlreadyNotified)

	v = d.Record(1)
	assert.True(t, v.AlreadyNotified, "confirm threshold must not refire")
}

func TestRecord_UnlimitedBudgetNeverNotifies(t *testing.T) {
	d := NewDimension(0, 0.8, 0.9)
	v := d.Record(1_000_000)
	assert.Equal(t, Info, v.Severity)
	assert.False(t, v.AlreadyNotified)
	assert.Equal(t, float64(0), v.FractionUsed)

	d2 := NewDimension(-5, 0.8, 0.9)
	v2 := d2.Record(1_000_000)
	assert.Equal(t, Info, v2.Severity)
}

func TestRecord_ConcurrentFiresThresholdExactlyOnce(t *testing.T) {
	d := NewDimension(1000, 0.8, 0.9)

	const n = 500
	var wg sync.WaitGroup
	wg.Add(n)
	var mu sync.Mutex
	warnFirings := 0
	confirmFirings := 0

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v := d.Record(2) // total moves 2 at a time, sum = 1000
			mu.Lock()
			defer mu.Unlock()
			if v.Severity == Warning && !v.AlreadyNotified {
				warnFirings++
			}
			if v.Severity == ConfirmationRequired && !v.AlreadyNotified {
				confirmFirings++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, warnFirings, "warning threshold must fire exactly once under concurrency")
	assert.Equal(t, 1, confirmFirings, "confirmation threshold must fire exactly once under concurrency")
	assert.Equal(t, int64(1000), d.Consumed(), "every recorded unit must be reflected in the total")
}

func TestTracker_TokensAndPremiumAreIndependent(t *testing.T) {
	tr := New("mod-1", 100, 10, 0.8, 0.9)

	v := tr.RecordTokens(90)
	assert.Equal(t, ConfirmationRequired, v.Severity)

	v = tr.RecordPremium()
	assert.Equal(t, Info, v.Severity, "premium dimension is independent of tokens")

	snap := tr.Snapshot()
	assert.Equal(t, "mod-1", snap.ModuleID)
	assert.Equal(t, int64(90), snap.TokensConsumed)
	assert.Equal(t, int64(100), snap.TokenBudget)
	assert.Equal(t, int64(1), snap.PremiumUsed)
	assert.Equal(t, int64(10), snap.PremiumBudget)
}

func TestDimension_FractionReportsZeroWhenUnlimited(t *testing.T) {
	d := NewDimension(0, 0.8, 0.9)
	d.Record(42)
	require.Equal(t, float64(0), d.Fraction())
}

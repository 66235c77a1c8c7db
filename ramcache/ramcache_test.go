package ramcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testKeyLen = 4

// ramBytes sized so New computes exactly one bucket with two slots:
// nodeSize = keyLen+8 = 12, h = ramBytes/(nodeSize*slotsPerBucket).
const oneBucketRAMBytes = (testKeyLen + 8) * 2

func payload(b byte) []byte { return []byte{b, 0, 0, 0} }

func TestAddStateMissAlwaysRequiresWrite(t *testing.T) {
	c := New(oneBucketRAMBytes, 2, testKeyLen)
	assert.True(t, c.AddState(payload(1), 10))
}

func TestAddStateSuppressesWorseFrameOnHit(t *testing.T) {
	c := New(oneBucketRAMBytes, 2, testKeyLen)
	require := assert.New(t)
	require.True(c.AddState(payload(1), 10))
	// same state seen again at a strictly worse (larger) frame: suppressed.
	require.False(c.AddState(payload(1), 20))
}

func TestAddStateReportsStrictlyBetterFrameOnHit(t *testing.T) {
	c := New(oneBucketRAMBytes, 2, testKeyLen)
	a := assert.New(t)
	a.True(c.AddState(payload(1), 20))
	// the stored frame (20) is worse than this new, smaller frame: must write.
	a.True(c.AddState(payload(1), 5))
}

func TestAddStateEvictsLeastRecentlyTouchedSlot(t *testing.T) {
	c := New(oneBucketRAMBytes, 2, testKeyLen)
	a := assert.New(t)

	a.True(c.AddState(payload(1), 0)) // slots: [1, _]
	a.True(c.AddState(payload(2), 0)) // slots: [2, 1]
	a.True(c.AddState(payload(3), 0)) // slots: [3, 2], 1 evicted

	// payload(1) was evicted by the bucket's two-slot capacity: seeing it
	// again is a miss, not a suppressed hit. Its reinsertion evicts 2.
	a.True(c.AddState(payload(1), 0)) // slots: [1, 3]
	// payload(3) survived both evictions: still present.
	a.False(c.AddState(payload(3), 100))
}

func TestResetClearsAllSlots(t *testing.T) {
	c := New(oneBucketRAMBytes, 2, testKeyLen)
	a := assert.New(t)

	a.True(c.AddState(payload(1), 10))
	a.False(c.AddState(payload(1), 20)) // hit, suppressed

	c.Reset()

	a.True(c.AddState(payload(1), 5)) // miss again after reset
}

package hints //nolint:testpackage // tests pin the clock through nowFunc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	p := Preview("op_abc", "build")

	assert.Contains(t, p, "op_abc")
	assert.Contains(t, p, "build")
	assert.Contains(t, p, "operation_ids=['op_abc']")
	assert.Contains(t, p, "status")
	assert.Contains(t, p, "empty list")
}

func TestObserveWait_PrematureFirstWait(t *testing.T) {
	e := New(Config{MinWaitGap: 10 * time.Second})
	start := time.Unix(1_700_000_000, 0)
	e.nowFunc = func() time.Time { return start.Add(2500 * time.Millisecond) }

	hint := e.ObserveWait("op_1", start)
	assert.Contains(t, hint, "CONCURRENCY HINT")
	assert.Contains(t, hint, "'op_1'")
	assert.Contains(t, hint, "2.5s")
	assert.Contains(t, hint, "efficiency: 25%")

	assert.Empty(t, e.ObserveWait("op_1", start), "only the first wait is judged")
}

func TestObserveWait_PatientWaitIsSilent(t *testing.T) {
	e := New(Config{MinWaitGap: 10 * time.Second})
	start := time.Unix(1_700_000_000, 0)
	e.nowFunc = func() time.Time { return start.Add(11 * time.Second) }

	assert.Empty(t, e.ObserveWait("op_1", start))
}

func TestObserveWait_NotStartedIsSilent(t *testing.T) {
	e := New(Config{})
	assert.Empty(t, e.ObserveWait("op_1", time.Time{}))
}

func TestObserveStatus_Threshold(t *testing.T) {
	e := New(Config{StatusPollThreshold: 3})

	assert.Empty(t, e.ObserveStatus("op_1"))
	assert.Empty(t, e.ObserveStatus("op_1"))

	hint := e.ObserveStatus("op_1")
	assert.Contains(t, hint, "STATUS POLLING DETECTED")
	assert.Contains(t, hint, "3 times")

	hint = e.ObserveStatus("op_1")
	assert.Contains(t, hint, "4 times", "counter is monotonic")

	assert.Empty(t, e.ObserveStatus("op_2"), "counters are per operation")
}

func TestForget(t *testing.T) {
	e := New(Config{StatusPollThreshold: 2, MinWaitGap: time.Hour})
	start := time.Now()

	e.ObserveStatus("op_1")
	assert.NotEmpty(t, e.ObserveStatus("op_1"))
	assert.NotEmpty(t, e.ObserveWait("op_1", start))

	e.Forget("op_1")
	assert.Empty(t, e.ObserveStatus("op_1"))
	assert.NotEmpty(t, e.ObserveWait("op_1", start))
}

func TestDefaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, DefaultConfig(), e.cfg)
}

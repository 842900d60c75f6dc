package workload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/agent-control-plane/internal/domain"
)

// 12:00 буднего дня — середина рабочего окна
var noon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func TestSchedule_UrgentPriorityImmediate(t *testing.T) {
	for _, p := range []int{domain.PriorityHighest, domain.PriorityUrgent} {
		hint := Schedule(&domain.AgentTask{Priority: p}, true, noon)

		assert.True(t, hint.Immediate, "priority %d", p)
		assert.Equal(t, noon, hint.StartAt)
		assert.Equal(t, "urgent priority", hint.Reason)
	}
}

func TestSchedule_NormalDeferredBehindUrgentQueue(t *testing.T) {
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityNormal}, true, noon)

	assert.False(t, hint.Immediate)
	assert.Equal(t, noon.Add(30*time.Minute), hint.StartAt)
	assert.Equal(t, "deferred behind urgent queue", hint.Reason)
}

func TestSchedule_NormalImmediateWhenQueueClear(t *testing.T) {
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityNormal}, false, noon)

	assert.True(t, hint.Immediate)
	assert.Equal(t, "queue is clear", hint.Reason)
}

func TestSchedule_LowPriorityDeferredToOffHours(t *testing.T) {
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityLow}, false, noon)

	assert.False(t, hint.Immediate)
	assert.Equal(t, 17, hint.StartAt.Hour())
	assert.Equal(t, noon.Day(), hint.StartAt.Day())
	assert.Equal(t, "deferred to off-business hours", hint.Reason)
}

func TestSchedule_LowPriorityOutsideBusinessHoursStartsNow(t *testing.T) {
	evening := time.Date(2026, 3, 4, 19, 30, 0, 0, time.UTC)
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityLowest}, false, evening)

	assert.Equal(t, evening, hint.StartAt)
}

func TestSchedule_ImminentDeadlineOverridesDeferral(t *testing.T) {
	deadline := noon.Add(45 * time.Minute)
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityLowest, Deadline: &deadline}, true, noon)

	assert.True(t, hint.Immediate)
	assert.Equal(t, "deadline imminent", hint.Reason)
}

func TestSchedule_OverdueDeadline(t *testing.T) {
	deadline := noon.Add(-time.Minute)
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityNormal, Deadline: &deadline}, true, noon)

	assert.True(t, hint.Immediate)
	assert.Equal(t, "deadline overdue", hint.Reason)
}

func TestSchedule_DistantDeadlineDoesNotForce(t *testing.T) {
	deadline := noon.Add(3 * time.Hour)
	hint := Schedule(&domain.AgentTask{Priority: domain.PriorityLow, Deadline: &deadline}, false, noon)

	assert.False(t, hint.Immediate)
	assert.Equal(t, "deferred to off-business hours", hint.Reason)
}

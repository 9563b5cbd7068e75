package entity

import (
	"math"
	"time"
)

// ProgressSnapshot 任务进度快照，每次进度事件整体替换
type ProgressSnapshot struct {
	UnitsTotal                int      `json:"units_total"`
	UnitsDone                 int      `json:"units_done"`
	LessonsTotal              int      `json:"lessons_total"`
	LessonsDone               int      `json:"lessons_done"`
	Percent                   int      `json:"percent"`
	ElapsedSeconds            float64  `json:"elapsed_seconds"`
	EstimatedSecondsRemaining *float64 `json:"estimated_seconds_remaining,omitempty"`
}

// NewProgressSnapshot 计算进度快照
// done 超出 total 时截断；尚无完成项时不给出剩余时间估计
func NewProgressSnapshot(unitsTotal, unitsDone, lessonsTotal, lessonsDone int, elapsed time.Duration) ProgressSnapshot {
	unitsTotal = max(unitsTotal, 0)
	lessonsTotal = max(lessonsTotal, 0)
	unitsDone = min(max(unitsDone, 0), unitsTotal)
	lessonsDone = min(max(lessonsDone, 0), lessonsTotal)

	total := unitsTotal + lessonsTotal
	done := unitsDone + lessonsDone

	s := ProgressSnapshot{
		UnitsTotal:     unitsTotal,
		UnitsDone:      unitsDone,
		LessonsTotal:   lessonsTotal,
		LessonsDone:    lessonsDone,
		Percent:        100 * done / max(total, 1),
		ElapsedSeconds: roundSeconds(elapsed.Seconds()),
	}
	if done > 0 {
		eta := roundSeconds(elapsed.Seconds() / float64(done) * float64(total-done))
		s.EstimatedSecondsRemaining = &eta
	}
	return s
}

// Clone 深拷贝
func (s ProgressSnapshot) Clone() ProgressSnapshot {
	if s.EstimatedSecondsRemaining != nil {
		eta := *s.EstimatedSecondsRemaining
		s.EstimatedSecondsRemaining = &eta
	}
	return s
}

// Done 是否全部完成
func (s ProgressSnapshot) Done() bool {
	return s.UnitsDone == s.UnitsTotal && s.LessonsDone == s.LessonsTotal
}

func roundSeconds(v float64) float64 {
	return math.Round(v*10) / 10
}

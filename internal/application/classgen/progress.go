package classgen

import (
	"time"

	"z-class-ai-api/internal/domain/entity"
)

// ProgressFunc 进度回调，同步调用
type ProgressFunc func(entity.ProgressSnapshot)

// progressTracker 维护单调不减的计数并发出快照
type progressTracker struct {
	unitsTotal   int
	lessonsTotal int
	unitsDone    int
	lessonsDone  int
	started      time.Time
	now          func() time.Time
	sink         ProgressFunc
}

func newProgressTracker(unitsTotal, lessonsTotal int, started time.Time, now func() time.Time, sink ProgressFunc) *progressTracker {
	return &progressTracker{
		unitsTotal:   unitsTotal,
		lessonsTotal: lessonsTotal,
		started:      started,
		now:          now,
		sink:         sink,
	}
}

func (p *progressTracker) unitDone() {
	if p.unitsDone < p.unitsTotal {
		p.unitsDone++
	}
	p.emit()
}

func (p *progressTracker) lessonDone() {
	if p.lessonsDone < p.lessonsTotal {
		p.lessonsDone++
	}
	p.emit()
}

func (p *progressTracker) emit() {
	if p.sink == nil {
		return
	}
	p.sink(entity.NewProgressSnapshot(p.unitsTotal, p.unitsDone, p.lessonsTotal, p.lessonsDone, p.now().Sub(p.started)))
}

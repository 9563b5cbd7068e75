package jobs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"z-class-ai-api/internal/application/classgen"
	"z-class-ai-api/internal/domain/entity"
)

type flightResult struct {
	class  *entity.Class
	reused bool
}

type flightFunc func(ctx context.Context, progress classgen.ProgressFunc) (flightResult, error)

// flight 同名课程的一次共享生成
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	subs   map[string]classgen.ProgressFunc
}

// flightGroup 按课程名合并并发生成。
// 进度广播给所有等待中的任务；只有全部等待者都离开时才取消生成。
type flightGroup struct {
	base    context.Context
	sf      singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup(base context.Context) *flightGroup {
	return &flightGroup{
		base:    base,
		flights: make(map[string]*flight),
	}
}

func (g *flightGroup) do(ctx context.Context, key, subID string, progress classgen.ProgressFunc, fn flightFunc) (flightResult, error) {
	f := g.join(ctx, key, subID, progress)
	defer g.leave(key, subID, f)

	ch := g.sf.DoChan(key, func() (v any, err error) {
		defer g.finish(key, f)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in generation: %v", r)
			}
		}()
		return fn(f.ctx, g.fanout(f))
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return flightResult{}, r.Err
		}
		return r.Val.(flightResult), nil
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	}
}

func (g *flightGroup) join(ctx context.Context, key, subID string, progress classgen.ProgressFunc) *flight {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.flights[key]
	if !ok {
		// 保留首个任务的日志与链路信息，取消只跟随等待者与编排器生命周期
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(g.base, cancel)
		f = &flight{
			ctx: fctx,
			cancel: func() {
				stop()
				cancel()
			},
			subs: make(map[string]classgen.ProgressFunc),
		}
		g.flights[key] = f
	}
	f.subs[subID] = progress
	return f
}

func (g *flightGroup) leave(key, subID string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(f.subs, subID)
	if len(f.subs) > 0 {
		return
	}
	f.cancel()
	if g.flights[key] == f {
		delete(g.flights, key)
		// 后来者需要开启新的生成，而不是加入已取消的那一次
		g.sf.Forget(key)
	}
}

func (g *flightGroup) finish(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
}

func (g *flightGroup) fanout(f *flight) classgen.ProgressFunc {
	return func(s entity.ProgressSnapshot) {
		g.mu.Lock()
		subs := make([]classgen.ProgressFunc, 0, len(f.subs))
		for _, p := range f.subs {
			subs = append(subs, p)
		}
		g.mu.Unlock()

		for _, p := range subs {
			if p != nil {
				p(s)
			}
		}
	}
}

// waiters 当前等待 key 的任务数
func (g *flightGroup) waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return len(f.subs)
	}
	return 0
}

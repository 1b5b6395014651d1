package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liquidity-maker-go/infrastructure/logger"
)

// ErrUnknownLoop RunNow 指定的循环不存在。
var ErrUnknownLoop = errors.New("engine: unknown loop")

// Group 一组并行运行、互不阻塞的循环。
type Group struct {
	log   *logger.Logger
	loops map[string]*Loop
	names []string
}

func NewGroup(log *logger.Logger, loops ...*Loop) *Group {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Group{log: log, loops: make(map[string]*Loop, len(loops))}
	for _, l := range loops {
		g.Add(l)
	}
	return g
}

// Add 在 Run 之前注册循环；同名循环会被替换。
func (g *Group) Add(l *Loop) {
	if _, ok := g.loops[l.Name()]; !ok {
		g.names = append(g.names, l.Name())
	}
	g.loops[l.Name()] = l
}

// Names 按注册顺序返回循环名。
func (g *Group) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

func (g *Group) Loop(name string) (*Loop, bool) {
	l, ok := g.loops[name]
	return l, ok
}

// Run 运行全部循环直到 ctx 结束。
func (g *Group) Run(ctx context.Context) error {
	g.log.Info("engine starting", zap.Strings("loops", g.names))
	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range g.names {
		l := g.loops[name]
		eg.Go(func() error {
			return l.Run(ctx)
		})
	}
	err := eg.Wait()
	g.log.Info("engine stopped", zap.Error(err))
	return err
}

// RunNow 手动触发某个循环的一次迭代。
func (g *Group) RunNow(ctx context.Context, name string) error {
	l, ok := g.loops[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLoop, name)
	}
	return l.RunNow(ctx)
}

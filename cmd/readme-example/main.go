package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/kernel"
	"github.com/c35s/pirq/sim"
	"golang.org/x/sync/errgroup"
)

func main() {
	b, err := sim.New(board.BCM2711)
	if err != nil {
		panic(err)
	}

	k, err := kernel.New(kernel.Config{
		Revision: board.BCM2711,
		Space:    b,
		CPU:      b.Core,
		OnEvent: func(e kernel.Event) {
			fmt.Println(e)
		},
	})

	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(ctx, 1000, time.Millisecond) })
	g.Go(func() error { return k.Run(ctx) })

	if err := g.Wait(); !errors.Is(err, context.DeadlineExceeded) {
		panic(err)
	}
}

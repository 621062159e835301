package main

import (
	"context"
	"fmt"
	"os"

	"hyperstack/client/views"
)

func watchState(ctx context.Context, state *views.State[map[string]any], key string) {
	seq := state.Use(key)
	defer seq.Cancel()
	for v, err := range seq.All(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "state sequence error:", err)
			}
			return
		}
		printJSON("state", v)
	}
}

func watchList(ctx context.Context, list *views.List[map[string]any]) {
	seq := list.Use()
	defer seq.Cancel()
	for v, err := range seq.All(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "list sequence error:", err)
			}
			return
		}
		printJSON("list", v)
	}
}

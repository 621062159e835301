// Command hyperclient-demo connects to a view server, subscribes to one
// state key and one list view, and prints every update it observes until
// interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hyperstack/client/client"
	"hyperstack/client/connection"
	"hyperstack/client/internal/logging"
)

func main() {
	url := flag.String("url", "", "view server websocket URL")
	entity := flag.String("entity", "demo", "stack entity name for the subscribed views")
	stateView := flag.String("state-view", "demo/state", "wire view path for the state view")
	listView := flag.String("list-view", "demo/list", "wire view path for the list view")
	key := flag.String("key", "", "key to watch on the state view")
	verbose := flag.Bool("v", false, "log at debug level instead of error level")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "url flag is required")
		os.Exit(1)
	}

	level := logging.ErrorLevel
	if *verbose {
		level = logging.DebugLevel
	}
	log := logging.New(os.Stderr, level)

	stack := client.Stack{
		Name: *entity,
		URL:  *url,
		Views: map[string]map[string]client.ViewDef{
			*entity: {
				"state": {Mode: client.ModeState, View: *stateView},
				"list":  {Mode: client.ModeList, View: *listView},
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := client.Connect(ctx, stack, client.WithLogger(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect error:", err)
		os.Exit(2)
	}
	defer c.Disconnect()

	c.OnStateChange(func(s connection.State) {
		fmt.Fprintf(os.Stderr, "connection state: %s\n", s)
	})

	if *key != "" {
		state, err := client.State[map[string]any](c, *entity, "state")
		if err != nil {
			fmt.Fprintln(os.Stderr, "state view error:", err)
			os.Exit(3)
		}
		go watchState(ctx, state, *key)
	}

	list, err := client.List[map[string]any](c, *entity, "list")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list view error:", err)
		os.Exit(3)
	}
	go watchList(ctx, list)

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down")
}

func printJSON(label string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: encode error: %v\n", label, err)
		return
	}
	fmt.Printf("%s: %s\n", label, b)
}

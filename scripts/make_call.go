package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/callscribe/pkg/callscribe"
)

// make_call places a single call through the configured call-control
// provider; the running listener picks up its webhooks.
func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "caller id, defaults to call.from_number")
	to := flag.String("to", "", "")
	flag.Parse()
	if *to == "" {
		fmt.Println("usage: make_call -to=+456 [-from=+123] [-config=...]")
		os.Exit(1)
	}
	cfg, err := callscribe.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if *from == "" {
		*from = cfg.Call.FromNumber
	}
	if *from == "" {
		fmt.Println("caller id is empty")
		os.Exit(1)
	}
	calls, err := callscribe.DefaultProviders().BuildCallControl(cfg)
	if err != nil {
		fmt.Println("callcontrol error:", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	callID, err := calls.Originate(ctx, *from, *to)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_id:", callID)
}

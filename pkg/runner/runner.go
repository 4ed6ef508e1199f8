// Package runner drives the process lifecycle: start hooks, wait for
// cancellation, then drain in-flight work within a deadline.
package runner

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run around the running phase. OnStart failing aborts Run before the
// runner reaches StateRunning.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func()
}

// Drainer waits for in-flight work to settle.
type Drainer interface {
	Drain(ctx context.Context) error
}

const Version = "dev"

// BannerOutput receives the startup banner. Nil disables it.
var BannerOutput io.Writer = os.Stdout

func PrintBanner(mode string) {
	if BannerOutput == nil {
		return
	}
	tpl := "{{ .Title \"CALLSCRIBE\" \"\" 0 }}\nVersion: " + Version + "  Mode: " + mode + "\n"
	banner.Init(BannerOutput, true, false, bytes.NewBufferString(tpl))
}

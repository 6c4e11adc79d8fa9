// Command sightline-probe is a minimal terminal client for exercising a
// running Sightline server: it dials the channel, opens a session, sends one
// text turn and prints the transcript as it commits. Agent audio is decoded
// and scheduled but discarded, so the probe runs headless.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Veri5ied/sightline/internal/client"
	"github.com/Veri5ied/sightline/internal/config"
	"github.com/Veri5ied/sightline/internal/media/scheduler"
	"github.com/Veri5ied/sightline/internal/transcript"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "channel endpoint to dial")
	instruction := flag.String("system", "", "optional system instruction for the session")
	text := flag.String("text", "", "send this single turn and wait for the reply; empty reads turns from stdin")
	configPath := flag.String("config", "", "optional YAML config; its client section tunes the media pipeline")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	turnDone := make(chan struct{}, 1)
	ccfg := client.Config{
		URL:    *url,
		Output: newDiscardOutput,
		Logger: logger,
		OnEntry: func(e transcript.Entry) {
			fmt.Printf("[%s] %s\n", e.Role, e.Text)
			if e.Role == transcript.RoleAgent {
				select {
				case turnDone <- struct{}{}:
				default:
				}
			}
		},
	}

	autoObserve := true
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sightline-probe: %v\n", err)
			return 1
		}
		ccfg.ApplyTuning(fileCfg.Client)
		autoObserve = fileCfg.Client.AutoObserve
	}
	c := client.New(ccfg)

	if err := c.Dial(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sightline-probe: %v\n", err)
		return 1
	}
	defer c.Close()
	c.SetAutoObserve(autoObserve)

	if err := c.Connect(ctx, *instruction); err != nil {
		fmt.Fprintf(os.Stderr, "sightline-probe: connect: %v\n", err)
		return 1
	}

	if *text != "" {
		return oneShot(ctx, c, *text, turnDone)
	}
	return interactive(ctx, c)
}

// oneShot sends a single turn and waits for the agent's committed reply.
func oneShot(ctx context.Context, c *client.Client, text string, turnDone <-chan struct{}) int {
	if err := c.SendText(ctx, text); err != nil {
		fmt.Fprintf(os.Stderr, "sightline-probe: send: %v\n", err)
		return 1
	}
	select {
	case <-turnDone:
		return 0
	case <-time.After(60 * time.Second):
		fmt.Fprintln(os.Stderr, "sightline-probe: timed out waiting for reply")
		return 1
	case <-ctx.Done():
		return 1
	}
}

// interactive reads turns from stdin until EOF or interrupt.
func interactive(ctx context.Context, c *client.Client) int {
	fmt.Println("connected — type a turn and press enter (Ctrl+D to quit)")
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if line == "" {
				continue
			}
			if err := c.SendText(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "sightline-probe: send: %v\n", err)
				return 1
			}
		}
	}
}

// discardOutput satisfies the scheduler sink without playing anything.
type discardOutput struct{}

func newDiscardOutput() (scheduler.Output, error) { return discardOutput{}, nil }

func (discardOutput) Schedule(samples []float32, sampleRate int, startAt time.Time) error {
	return nil
}

func (discardOutput) Close() error { return nil }

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/martinemde/codepair/conversation"
)

// Run solves one problem, asking the terminal for human input.
func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.MaxTurns >= 0 {
		cfg.Conversation.MaxTurns = c.MaxTurns
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdout)
	lines := newLineReader(os.Stdin)

	task := strings.TrimSpace(c.Task)
	if task == "" {
		con.prompt("Enter the problem:")
		task, err = lines.next()
		if err != nil {
			return fmt.Errorf("read problem: %w", err)
		}
		if task = strings.TrimSpace(task); task == "" {
			return errors.New("no problem given")
		}
	}

	return runInteractive(ctx, a, task, con, lines)
}

type starter interface {
	Start(ctx context.Context, task string) *conversation.Run
}

// runInteractive drives one run: events go to the console and each prompt
// is answered from lines. End of input or ctx cancellation cancels the run.
func runInteractive(ctx context.Context, s starter, task string, con *console, lines *lineReader) error {
	run := s.Start(ctx, task)

	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	events, prompts := run.Events(), run.Prompts()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			con.render(ev)
		case prompt, ok := <-prompts:
			if !ok {
				prompts = nil
				continue
			}
			// Events emitted before the request are already buffered.
			events = drain(events, con)
			con.prompt(prompt)
			text, err := lines.next()
			if err != nil {
				run.Cancel()
				continue
			}
			// A rejected reply fails the run and Wait reports it.
			_ = run.Reply(strings.TrimSpace(text))
		}
	}

	err := run.Wait()
	if errors.Is(err, conversation.ErrCancelled) {
		return nil
	}
	return err
}

// drain renders buffered events without blocking. It returns nil once the
// stream is closed.
func drain(events <-chan conversation.Event, con *console) <-chan conversation.Event {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			con.render(ev)
		default:
			return events
		}
	}
}

// lineReader reads whole lines from the terminal.
type lineReader struct {
	sc *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineReader{sc: sc}
}

func (l *lineReader) next() (string, error) {
	if l.sc.Scan() {
		return l.sc.Text(), nil
	}
	if err := l.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

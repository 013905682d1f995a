package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/client"
	"github.com/danmuck/chatctl/internal/config"
	"github.com/danmuck/chatctl/internal/flow"
	"github.com/danmuck/chatctl/internal/logging"
	"github.com/danmuck/chatctl/internal/observability"
	"github.com/danmuck/chatctl/internal/outbox"
	"github.com/danmuck/chatctl/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "chatctl.toml", "path to client config")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.LoadClientConfig(cfgPath)
	if err != nil {
		return err
	}
	logging.ConfigureRuntime()
	logger := observability.InitLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stdin := bufio.NewScanner(os.Stdin)

	pairs, initialMessage, err := runFlow(cfg, stdin)
	if err != nil {
		return err
	}

	conn, err := transport.New(cfg.TransportConfig(), logger)
	if err != nil {
		return err
	}
	cl, err := client.New(cfg.ClientConfig(), conn, logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	unsubStatus := cl.Subscribe(printStatus)
	defer unsubStatus()
	unsubMsg := cl.Events().OnNewMessage(func(m chat.Message) {
		fmt.Printf("%s: %s\n", m.Sender, m.Message)
	})
	defer unsubMsg()

	if err := cl.Connect(ctx); err != nil {
		return err
	}
	draft := chat.NewSessionDraft(cfg.User.ID, cfg.User.Email, cfg.User.Name, initialMessage, pairs)
	if err := cl.StartSession(ctx, draft); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			watchDelivery(cl, line)
		}
	}
}

// runFlow walks the scripted decision tree on stdin, if one is configured.
// The last free-text answer doubles as the session's opening message.
func runFlow(cfg config.ClientConfig, stdin *bufio.Scanner) ([]chat.QuestionAnswerPair, string, error) {
	if cfg.FlowScript == "" {
		return nil, "", nil
	}
	script, err := flow.Load(cfg.FlowScript)
	if err != nil {
		return nil, "", err
	}
	walker, err := flow.NewWalker(script, cfg.User.ID)
	if err != nil {
		return nil, "", err
	}

	for !walker.Done() {
		step, err := walker.Current()
		if err != nil {
			return nil, "", err
		}
		fmt.Println(step.Question)
		for _, opt := range step.Options {
			fmt.Printf("  - %s\n", opt.Label)
		}
		fmt.Print("> ")
		if !stdin.Scan() {
			return nil, "", stdin.Err()
		}
		if err := walker.Answer(stdin.Text()); err != nil {
			fmt.Println(err)
		}
	}

	pairs := walker.Log()
	initial := ""
	if len(pairs) > 0 {
		initial = pairs[len(pairs)-1].Answer
	}
	return pairs, initial, nil
}

func watchDelivery(cl *client.Client, text string) {
	done, err := cl.Send(text)
	if err != nil {
		fmt.Printf("send failed: %v\n", err)
		return
	}
	go func(done <-chan outbox.Result) {
		if res := <-done; res.Err != nil {
			fmt.Printf("message %q failed: %v\n", text, res.Err)
		}
	}(done)
}

func printStatus(s client.Snapshot) {
	switch s.Status {
	case client.StatusConnecting:
		fmt.Println("[connecting...]")
	case client.StatusWaiting:
		fmt.Println("[waiting for an agent]")
	case client.StatusActive:
		fmt.Printf("[%s joined the chat]\n", s.AgentName)
	case client.StatusClosed:
		fmt.Println("[chat closed]")
	case client.StatusError:
		fmt.Printf("[error: %v, retries left: %d]\n", s.Err, s.RetriesLeft)
	}
}

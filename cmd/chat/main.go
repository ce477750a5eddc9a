package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"konnekt-chat/auth"
	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
	"konnekt-chat/internal"
	"konnekt-chat/services"
	"konnekt-chat/transport"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the chat client.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat error: %v\n", err)
	}
	os.Exit(code)
}

// run opens one chat with the recipient given by -to, prints the history and
// the live messages, and sends every line typed on stdin.
func run() (int, error) {
	recipient := flag.String("to", "", "User id of the person to chat with")
	colours := flag.Bool("colours", true, "Colorize the output")
	flag.Parse()
	if *recipient == "" {
		return exitConfig, errors.New("missing -to recipient")
	}

	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.ClientConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	creds, err := credentials(config)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Shared connection and chat session
	hub := services.NewHub(log, services.HubConfig{
		SocketBaseURI:  config.SocketBaseURI(),
		HistoryBaseURL: config.HistoryBaseURL(),
		Transport: transport.NewInsecure(transport.Config{
			ConnectTimeout: config.ConnectTimeout,
			ReadTimeout:    config.ReadTimeout,
		}),
		BufferSize:   config.BufferSize,
		Reconnect:    config.ReconnectPolicy(),
		PollInterval: config.PollInterval,
		AckTimeout:   config.AckTimeout,
	})
	defer hub.Close()

	session, err := hub.OpenSession(ctx, creds, *recipient)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not open chat with %s: %w", *recipient, err)
	}
	defer func() {
		log.Info("Closing chat...")
		_ = session.Close()
	}()

	// 3. Screen
	screen := newRenderer(os.Stdout, creds.UserID, *colours)
	states := session.Observe()
	defer states.Unsubscribe()
	screen.render(session.State())

	lines := make(chan string)
	go readLines(ctx, lines)

	log.Info("Chat opened (Ctrl+C to quit)", "chat_id", session.ChatID())

	// 4. Event loop
	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-states.Done():
			return exitOK, nil
		case state := <-states.C():
			screen.render(state)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if err := session.SendMessage(ctx, line); err != nil && chaterrors.KindOf(err) != chaterrors.KindUserAction {
				log.Warn("Send failed", "error", err)
			}
		}
	}
}

// credentials uses the configured token, or mints one when a dev secret is set.
func credentials(config internal.ClientConfig) (domain.Credentials, error) {
	creds := domain.Credentials{UserID: config.UserID, Token: config.Token}
	if creds.Token != "" || config.JWTSecret == "" {
		return creds, nil
	}
	signer, err := auth.NewSigner(config.JWTSecret)
	if err != nil {
		return domain.Credentials{}, err
	}
	creds.Token, err = signer.GenerateToken(config.UserID, []string{"user"}, config.TokenDuration)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("minting token: %w", err)
	}
	return creds, nil
}

// readLines forwards non-blank stdin lines until EOF or ctx ends. A Scan
// blocked on stdin is not interruptible; the goroutine is left behind and
// ends with the process.
func readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

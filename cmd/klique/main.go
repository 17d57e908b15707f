package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"klique/cache"
	"klique/client"
	"klique/config"
	"klique/models"
	"klique/protocol"
	"klique/session"
)

var (
	flagUserID int64
	flagName   string
	flagToken  string
	flagGist   string
	flagTopic  string
)

func main() {
	root := &cobra.Command{
		Use:   "klique",
		Short: "Klique realtime chat client",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		},
	}
	root.PersistentFlags().Int64Var(&flagUserID, "user-id", 0, "numeric user id")
	root.PersistentFlags().StringVar(&flagName, "name", "", "display name")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "auth token")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Join or create a gist and chat from the terminal",
		RunE:  runChat,
	}
	chatCmd.Flags().StringVar(&flagGist, "gist", "", "gist id to join")
	chatCmd.Flags().StringVar(&flagTopic, "topic", "", "topic for a new gist (ignored when --gist is set)")
	root.AddCommand(chatCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	identity := models.Identity{
		UserID:      flagUserID,
		DisplayName: flagName,
		Token:       flagToken,
	}

	store, err := cache.New(cfg.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	sess := session.New(cfg, identity, session.Deps{
		Cache:    store,
		Notifier: consoleNotifier{},
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Close()

	if flagGist != "" {
		if err := sess.JoinGist(flagGist); err != nil {
			log.Warn().Err(err).Msg("join failed")
		}
	} else if flagTopic != "" {
		if err := sess.CreateGist(flagTopic, ""); err != nil {
			log.Warn().Err(err).Msg("create failed")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		return inputLoop(ctx, sess)
	})
	return g.Wait()
}

// inputLoop reads stdin lines and turns them into chat commands. Plain
// lines go to the active gist; lines starting with "/" are commands.
func inputLoop(ctx context.Context, sess *session.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(sess, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return scanner.Err()
}

func handleLine(sess *session.Session, line string) error {
	if !strings.HasPrefix(line, "/") {
		_, err := sess.SendGistText(line)
		return err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		sess.Close()
		return nil
	case "/join":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /join <gist-id>")
		}
		return sess.JoinGist(fields[1])
	case "/exit":
		return sess.ExitGist()
	case "/history":
		if err := sess.LoadHistory(); err != nil {
			return err
		}
		for _, msg := range sess.GistMessages() {
			fmt.Printf("[%s] %s: %s\n", msg.Status, msg.SenderName, msg.Content)
		}
		return nil
	case "/dm":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /dm <thread-id> <text>")
		}
		_, err := sess.SendDirectText(fields[1], strings.Join(fields[2:], " "))
		return err
	case "/room":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /room <room-id> <text>")
		}
		_, err := sess.SendRoomText(fields[1], strings.Join(fields[2:], " "))
		return err
	case "/watch":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /watch <user-id>")
		}
		userID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		return sess.SubscribePresence(userID)
	case "/requests":
		for _, req := range sess.CliqueRequests() {
			fmt.Printf("request from %s (id %d)\n", req.Name, req.UserID)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

// consoleNotifier prints lifecycle changes, incoming messages and events
// no feature handler consumed.
type consoleNotifier struct{}

func (consoleNotifier) StateChanged(s client.State) {
	log.Info().Str("state", s.String()).Msg("connection state")
}

func (consoleNotifier) MessageReceived(msg models.Message) {
	if len(msg.Media) > 0 {
		fmt.Printf("%s sent a %s (%d bytes)\n", msg.SenderName, msg.Type, len(msg.Media))
		return
	}
	fmt.Printf("%s: %s\n", msg.SenderName, msg.Content)
}

func (consoleNotifier) UnhandledEvent(listenerID string, ev protocol.Event) {
	log.Debug().Str("listener", listenerID).Str("type", ev.EventType()).Msg("unhandled event")
}

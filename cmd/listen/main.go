package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/domain"
	"github.com/instantchat/backend/internal/inbox"
	"github.com/instantchat/backend/internal/realtime/client"
)

var errAuthRejected = errors.New("server rejected the token")

var (
	serverURL   string
	token       string
	userID      string
	eventTypes  []string
	capacity    int
	maxAttempts int
	heartbeat   time.Duration
	jsonOutput  bool
	verbose     bool
)

func defaultServerURL() string {
	if s := os.Getenv("INSTANTCHAT_WS_URL"); s != "" {
		return s
	}
	return "ws://localhost:8080/socket"
}

var rootCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream live notifications from the InstantChat realtime bus",
	Long: `listen connects to the realtime bus, authenticates with a bearer token,
subscribes to the requested event types and prints every notification as it
arrives. The connection is re-established with exponential backoff; the
command exits non-zero once reconnect attempts are exhausted.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if token == "" {
			return errors.New("a token is required (--token or INSTANTCHAT_TOKEN)")
		}
		for _, t := range eventTypes {
			if _, ok := domain.ParseEventType(t); !ok {
				return fmt.Errorf("unknown event type %q", t)
			}
		}

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return listen(ctx, cmd.OutOrStdout(), logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", defaultServerURL(), "websocket URL of the realtime bus (env: INSTANTCHAT_WS_URL)")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("INSTANTCHAT_TOKEN"), "bearer token (env: INSTANTCHAT_TOKEN)")
	rootCmd.Flags().StringVar(&userID, "user", "", "user id expected to own the token")
	rootCmd.Flags().StringSliceVarP(&eventTypes, "types", "t", nil, "event types to subscribe to (default: all)")
	rootCmd.Flags().IntVar(&capacity, "capacity", inbox.DefaultCapacity, "notifications kept in the local inbox")
	rootCmd.Flags().IntVar(&maxAttempts, "max-attempts", client.DefaultConfig().MaxAttempts, "reconnect attempts before giving up")
	rootCmd.Flags().DurationVar(&heartbeat, "heartbeat", client.DefaultConfig().HeartbeatInterval, "heartbeat interval")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print notifications as JSON lines")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log connection state changes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func listen(ctx context.Context, out io.Writer, logger *zap.Logger) error {
	store := inbox.NewStore(capacity)
	printer := &printer{out: out, store: store, json: jsonOutput}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cfg := client.DefaultConfig()
	cfg.UserID = userID
	cfg.MaxAttempts = maxAttempts
	cfg.HeartbeatInterval = heartbeat

	header := http.Header{}
	header.Set("User-Agent", "instantchat-listen")
	dialer := client.NewWebsocketDialer(serverURL, header)

	sup := client.NewSupervisor(dialer, func() string { return token }, cfg,
		client.WithLogger(logger),
		client.WithNotificationHandler(func(n *domain.Notification) {
			if store.Add(n) {
				printer.print(n)
			}
		}),
		client.WithStateHandler(func(st client.State) {
			logger.Info("connection state changed", zap.String("state", st.String()))
			if st == client.StateTerminal {
				cancel(client.ErrTerminal)
			}
		}),
		client.WithAuthHandler(func(ok bool, reason string) {
			if ok {
				logger.Info("authenticated")
				return
			}
			cancel(fmt.Errorf("%w: %s", errAuthRejected, reason))
		}),
	)
	if len(eventTypes) > 0 {
		sup.Subscribe(eventTypes...)
	}

	sup.Run(ctx)

	err := context.Cause(ctx)
	fmt.Fprintf(out, "received %d notifications, %d unread\n", store.Len(), store.UnreadCount())
	if errors.Is(err, client.ErrTerminal) || errors.Is(err, errAuthRejected) {
		return err
	}
	return nil
}

type printer struct {
	out   io.Writer
	store *inbox.Store
	json  bool
}

func (p *printer) print(n *domain.Notification) {
	if p.json {
		json.NewEncoder(p.out).Encode(n)
		return
	}
	who := n.UserInfo.Username
	if who == "" {
		who = n.SenderID
	}
	fmt.Fprintf(p.out, "%s  %-14s %-20s %s  (unread %d)\n",
		n.Timestamp,
		n.EventType,
		who,
		strings.ReplaceAll(n.Content.Text, "\n", " "),
		p.store.UnreadCount(),
	)
}

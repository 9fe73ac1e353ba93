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
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/chatcache"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/client"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/config"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	keyServer   = "cli.server"
	keyToken    = "cli.token"
	keyLogLevel = "cli.log_level"

	defaultServer = "http://localhost:8080"
)

var errMissingToken = errors.New("no session token: run login and export ALIAS_CLI_TOKEN")

func main() {
	cliViper := config.NewViper()
	cliViper.SetDefault(keyServer, defaultServer)
	cliViper.SetDefault(keyLogLevel, "warn")
	_ = cliViper.BindEnv(keyToken)

	rootCmd := &cobra.Command{
		Use:          "alias-cli",
		Short:        "Chat with an Alias server from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
	}
	rootCmd.PersistentFlags().String("server", defaultServer, "Alias server base URL")
	rootCmd.PersistentFlags().String("token", "", "Session token (defaults to ALIAS_CLI_TOKEN)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	for key, flag := range map[string]string{keyServer: "server", keyToken: "token", keyLogLevel: "log-level"} {
		if err := cliViper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	app := &cliApp{viper: cliViper, out: os.Stdout}
	rootCmd.AddCommand(app.loginCommand(), app.sendCommand(), app.watchCommand(), app.reactCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cliApp struct {
	viper *viper.Viper
	out   io.Writer
}

func (a *cliApp) logger() *zap.Logger {
	logger, err := logging.NewLogger(a.viper.GetString(keyLogLevel), "console")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (a *cliApp) apiClient(requireToken bool) (*client.Client, error) {
	token := strings.TrimSpace(a.viper.GetString(keyToken))
	if requireToken && token == "" {
		return nil, errMissingToken
	}
	return client.New(client.Config{
		BaseURL: a.viper.GetString(keyServer),
		Token:   token,
		Logger:  a.logger(),
	})
}

// channelSession is a synchronizer for one channel with its first page loaded.
type channelSession struct {
	api     *client.Client
	me      chatcache.Profile
	sync    *chatcache.Synchronizer
	notices []string
}

func (a *cliApp) openChannel(ctx context.Context, channelID string) (*channelSession, error) {
	api, err := a.apiClient(true)
	if err != nil {
		return nil, err
	}
	me, err := api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	members, err := api.ChannelMembers(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	session := &channelSession{api: api, me: me}
	synchronizer, err := chatcache.NewSynchronizer(chatcache.SynchronizerConfig{
		ChannelID: channelID,
		UserID:    me.ID,
		API:       api,
		Uploader:  api,
		Members:   chatcache.NewMemberDirectory(members...),
		Notifier: chatcache.NotifierFunc(func(message string) {
			session.notices = append(session.notices, message)
		}),
		Logger: a.logger(),
	})
	if err != nil {
		return nil, err
	}
	session.sync = synchronizer
	if _, err := synchronizer.LoadMore(ctx); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return session, nil
}

func (a *cliApp) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.apiClient(false)
			if err != nil {
				return err
			}
			session, err := api.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "signed in as %s (%s)\n", session.Profile.DisplayName, session.Profile.Username)
			fmt.Fprintf(a.out, "export ALIAS_CLI_TOKEN=%s\n", session.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account e-mail")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *cliApp) sendCommand() *cobra.Command {
	var channelID, attachPath string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message to a channel",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.openChannel(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			var attachment *chatcache.Attachment
			if attachPath != "" {
				data, err := os.ReadFile(attachPath)
				if err != nil {
					return err
				}
				attachment = &chatcache.Attachment{
					Name:        filepath.Base(attachPath),
					ContentType: http.DetectContentType(data),
					Data:        data,
				}
			}
			result, err := session.sync.SendMessage(cmd.Context(), strings.Join(args, " "), attachment)
			for _, notice := range session.notices {
				fmt.Fprintln(a.out, notice)
			}
			if err != nil {
				if result.Restored != nil {
					fmt.Fprintf(a.out, "draft kept: %s\n", result.Restored.Content)
				}
				return err
			}
			printMessage(a.out, result.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel id")
	cmd.Flags().StringVar(&attachPath, "attach", "", "File to attach")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func (a *cliApp) reactCommand() *cobra.Command {
	var channelID, messageID, emoji string
	cmd := &cobra.Command{
		Use:   "react",
		Short: "Toggle your reaction on a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.openChannel(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			for {
				if _, ok := session.sync.Cache().FindMessage(messageID); ok {
					break
				}
				more, err := session.sync.LoadMore(cmd.Context())
				if err != nil {
					return err
				}
				if !more {
					return chatcache.ErrMessageNotLoaded
				}
			}
			err = session.sync.ToggleReaction(cmd.Context(), messageID, emoji)
			for _, notice := range session.notices {
				fmt.Fprintln(a.out, notice)
			}
			if err != nil {
				return err
			}
			if message, ok := session.sync.Cache().FindMessage(messageID); ok {
				printMessage(a.out, message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel id")
	cmd.Flags().StringVar(&messageID, "message", "", "Message id")
	cmd.Flags().StringVar(&emoji, "emoji", "👍", "Reaction emoji")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func (a *cliApp) watchCommand() *cobra.Command {
	var channelID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a channel and follow changes made by others",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session, err := a.openChannel(ctx, channelID)
			if err != nil {
				return err
			}
			history := session.sync.Cache().Flatten()
			for index := len(history) - 1; index >= 0; index-- {
				printMessage(a.out, history[index])
			}

			logger := a.logger()
			events := make(chan realtime.Event, 64)
			subscription, err := client.DialRealtime(ctx, client.RealtimeConfig{
				BaseURL: a.viper.GetString(keyServer),
				Token:   session.api.Token(),
				Topics: []string{
					realtime.MessagesTopic(channelID),
					realtime.ReactionsTopic(channelID),
					realtime.ChannelTopic(channelID),
				},
				Handler: func(event realtime.Event) {
					select {
					case events <- event:
					case <-ctx.Done():
					}
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer subscription.Close()

			for {
				select {
				case <-ctx.Done():
					return nil
				case event := <-events:
					a.printEvent(session, event, logger)
				}
			}
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel id")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func (a *cliApp) printEvent(session *channelSession, event realtime.Event, logger *zap.Logger) {
	if event.Kind == realtime.KindBroadcast && event.Broadcast != nil && event.ActorID != session.me.ID {
		if event.Broadcast.Event == realtime.EventTypingStart {
			fmt.Fprintf(a.out, "... %s is typing\n", event.ActorID)
		}
		return
	}
	applied, err := session.sync.ApplyPeerEvent(event)
	if err != nil {
		logger.Warn("peer event dropped", zap.String("topic", event.Topic), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	if event.Type == realtime.ChangeDelete && event.Table == realtime.TableMessages {
		fmt.Fprintln(a.out, "(a message was deleted)")
		return
	}
	var row struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
	}
	raw := event.New
	if len(raw) == 0 {
		raw = event.Old
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return
	}
	messageID := row.ID
	if event.Table == realtime.TableReactions {
		messageID = row.MessageID
	}
	if message, ok := session.sync.Cache().FindMessage(messageID); ok {
		printMessage(a.out, message)
	}
}

func printMessage(out io.Writer, message chatcache.Message) {
	stamp := "--:--"
	if message.CreatedAt != nil {
		stamp = message.CreatedAt.Local().Format("15:04")
	}
	author := message.Author.DisplayName
	if author == "" {
		author = "unknown"
	}
	line := fmt.Sprintf("[%s] %s: %s", stamp, author, message.Content)
	if message.AttachmentURL != nil {
		line += " <" + *message.AttachmentURL + ">"
	}
	if len(message.Reactions) > 0 {
		counts := map[string]int{}
		order := []string{}
		for _, reaction := range message.Reactions {
			if counts[reaction.Reaction] == 0 {
				order = append(order, reaction.Reaction)
			}
			counts[reaction.Reaction]++
		}
		parts := make([]string, 0, len(order))
		for _, emoji := range order {
			parts = append(parts, fmt.Sprintf("%s%d", emoji, counts[emoji]))
		}
		line += "  " + strings.Join(parts, " ")
	}
	fmt.Fprintf(out, "%s  (%s)\n", line, message.ID)
}

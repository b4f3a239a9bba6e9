package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/client"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/ui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const askWrapWidth = 100

type options struct {
	configPath    string
	baseURL       string
	token         string
	userID        string
	email         string
	password      string
	logFile       string
	markdownStyle string
	ask           bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	command := &cobra.Command{
		Use:   "jurist-chat [question]",
		Short: "Chat with the Jurist Mind legal assistant",
		Long: `Opens an interactive chat with the Jurist Mind legal assistant.
With --ask, sends a single question and prints the answer.`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, args, c.OutOrStdout())
		},
	}

	flags := command.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a config file (defaults to config.json lookup)")
	flags.StringVar(&opts.baseURL, "base-url", "", "Backend URL. Config path: [ client.base_url ]")
	flags.StringVar(&opts.token, "token", "", "Access token. Config path: [ client.token ]")
	flags.StringVar(&opts.userID, "user-id", "", "User id; resolved from the token when empty")
	flags.StringVar(&opts.email, "email", "", "Sign in with this email instead of a token")
	flags.StringVar(&opts.password, "password", "", "Password for --email (or JURIST_PASSWORD)")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to this file; logs are discarded otherwise")
	flags.StringVar(&opts.markdownStyle, "style", "", "Markdown style (dark, light, notty); detected when empty")
	flags.BoolVarP(&opts.ask, "ask", "a", false, "Send a single question and print the answer")

	return command
}

func run(ctx context.Context, opts *options, args []string, out io.Writer) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, closeLog, err := newLogger(cfg.Log, opts.logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	applyFlags(&cfg.Client, opts)

	cl := client.New(cfg.Client.BaseURL, cfg.Client.Token, client.WithLogger(logger))
	userID, err := signIn(ctx, cl, opts, cfg.Client.UserID)
	if err != nil {
		return err
	}

	reader, err := cl.StreamReader()
	if err != nil {
		return err
	}

	engine := chat.NewEngine(chat.Config{
		UserID:           userID,
		LowWaterMark:     cfg.Usage.LowWaterMark,
		PointsPerMessage: cfg.Usage.PointsPerMessage,
	}, chat.Deps{
		Sessions:  cl,
		Messages:  cl,
		Usage:     cl,
		Assistant: reader,
		Realtime:  client.NewRealtime(cl.BaseURL(), cl.Token(), logger),
		Logger:    logger,
	})

	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := engine.Run(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("chat engine stopped")
		}
	}()

	logger.WithFields(logrus.Fields{
		"base_url": cl.BaseURL(),
		"user_id":  userID,
	}).Info("chat client starting")

	if opts.ask {
		return askOnce(ctx, engine, strings.Join(args, " "), opts.markdownStyle, out)
	}
	return ui.Run(ctx, engine, ui.Options{MarkdownStyle: opts.markdownStyle, Logger: logger})
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger keeps logs off the terminal the UI draws on
func newLogger(cfg config.LogConfig, path string) (*logrus.Logger, func(), error) {
	logger := cfg.NewLogger()
	if path == "" {
		logger.SetOutput(io.Discard)
		return logger, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, func() { _ = f.Close() }, nil
}

func applyFlags(cfg *config.ClientConfig, opts *options) {
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.token != "" {
		cfg.Token = opts.token
	}
	if opts.userID != "" {
		cfg.UserID = opts.userID
	}
	if opts.password == "" {
		opts.password = os.Getenv("JURIST_PASSWORD")
	}
}

// signIn makes sure the client holds a token and returns the user id
func signIn(ctx context.Context, cl *client.Client, opts *options, userID string) (string, error) {
	if opts.email != "" {
		if opts.password == "" {
			return "", errors.New("--password or JURIST_PASSWORD is required with --email")
		}
		resp, err := cl.Login(ctx, opts.email, opts.password)
		if err != nil {
			return "", fmt.Errorf("sign in failed: %w", err)
		}
		return resp.User.ID, nil
	}
	if cl.Token() == "" {
		return "", chat.ErrAuthRequired
	}
	if userID != "" {
		return userID, nil
	}
	u, err := cl.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve the signed-in user: %w", err)
	}
	return u.ID, nil
}

func askOnce(ctx context.Context, engine *chat.Engine, question, style string, out io.Writer) error {
	x, err := engine.Send(ctx, question)
	if err != nil {
		return err
	}
	select {
	case <-x.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	result := x.Result()
	fmt.Fprintln(out, renderAnswer(result.Text, style))
	for _, s := range result.Sources {
		if s.URL != "" {
			fmt.Fprintf(out, "  - %s (%s)\n", s.Title, s.URL)
		} else {
			fmt.Fprintf(out, "  - %s\n", s.Title)
		}
	}
	return x.Err()
}

func renderAnswer(text, style string) string {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(askWrapWidth)}
	if style != "" {
		opts = append(opts, glamour.WithStandardStyle(style))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

package main

import (
	"athena/internal/api"
	"athena/internal/auth"
	"athena/internal/broker"
	"athena/internal/commands"
	"athena/internal/config"
	"athena/internal/console"
	"athena/internal/filestore"
	"athena/internal/notify"
	"athena/internal/session"
	"athena/internal/storage"
	"athena/internal/ws"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type options struct {
	login    bool
	logout   bool
	register string
	chatID   int64
	height   int
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("athena", flag.ContinueOnError)
	fs.BoolVar(&o.login, "login", false, "Log in with ATHENA_EMAIL and ATHENA_PASSWORD and save the session")
	fs.BoolVar(&o.logout, "logout", false, "End the saved session and clear the local cache")
	fs.StringVar(&o.register, "register", "", "Create an account with this display name, using ATHENA_EMAIL and ATHENA_PASSWORD")
	fs.Int64Var(&o.chatID, "chat", 0, "Open this chat on start")
	fs.IntVar(&o.height, "lines", console.DefaultHeight, "Messages shown when a chat is opened")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.login && o.logout {
		return o, errors.New("-login and -logout are exclusive")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	client, err := api.NewClient(ctx, api.Config{
		BaseURL:       cfg.APIURL,
		Timeout:       cfg.RequestTimeout,
		UserCacheTTL:  cfg.UserCacheTTL,
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if opts.register != "" {
		return commands.Register(ctx, client, opts.register, cfg.Email, cfg.Password, stdout)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService := auth.NewService(client, bbStorage, logger)

	switch {
	case opts.login:
		return commands.Login(ctx, authService, cfg.Email, cfg.Password, stdout)
	case opts.logout:
		if _, err := authService.Restore(ctx); err != nil && !errors.Is(err, auth.ErrNotLoggedIn) {
			return err
		}
		return commands.Logout(ctx, authService, stdout)
	}

	user, err := authService.Restore(ctx)
	if errors.Is(err, auth.ErrNotLoggedIn) && cfg.Email != "" {
		user, err = authService.Login(ctx, cfg.Email, cfg.Password)
	}
	if errors.Is(err, auth.ErrNotLoggedIn) {
		return errors.New("not logged in, run athena -login first")
	}
	if err != nil {
		return err
	}

	conn := ws.NewManager(ws.Config{
		Dial: func(ctx context.Context) (ws.Broker, error) {
			header := http.Header{}
			header.Set("Origin", cfg.WSOrigin())
			if token := client.Token(); token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			return broker.Dial(ctx, broker.Config{
				URL:              cfg.WSURL,
				Header:           header,
				Jar:              client.Jar(),
				HeartBeat:        cfg.HeartBeat,
				HandshakeTimeout: cfg.ConnectTimeout,
				Logger:           logger,
			})
		},
		Reconnect: ws.ReconnectPolicy{
			Initial:    cfg.ReconnectInitial,
			Max:        cfg.ReconnectMax,
			MaxElapsed: cfg.ReconnectMaxElapsed,
		},
		DialTimeout: cfg.ConnectTimeout,
		Logger:      logger,
	})

	webPush, err := notify.NewWebPush(notify.WebPushConfig{
		SubscriptionFile: cfg.WebPushSubscription,
		VAPIDPublicKey:   cfg.VAPIDPublicKey,
		VAPIDPrivateKey:  cfg.VAPIDPrivateKey,
		Subscriber:       cfg.VAPIDSubscriber,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.DownloadDir)
	if err != nil {
		return err
	}

	presenter := console.NewPresenter(stdout, user.ID, opts.height)
	sess := session.New(session.Config{
		User:       user,
		API:        client,
		Auth:       authService,
		Conn:       conn,
		Cache:      bbStorage,
		Files:      files,
		Presenter:  presenter,
		Notifier:   notify.Multi{notify.NewTerminal(stdout), webPush},
		Sound:      notify.Bell{W: stdout},
		Visibility: presenter,
		PageSize:   cfg.PageSize,
		Logger:     logger,
	})

	_, _ = fmt.Fprintf(stdout, "Logged in as %s. Type /help for commands.\n", user.Name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return sess.Run(gCtx)
	})

	g.Go(func() error {
		defer cancel()
		return console.New(sess, presenter, stdin).Run(gCtx)
	})

	sess.Start()
	if opts.chatID > 0 {
		sess.ActivateChat(opts.chatID)
	}

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if errors.Is(err, api.ErrSessionExpired) {
		log.Fatalf("Session expired, log in again with -login")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

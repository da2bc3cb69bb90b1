package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"jinokyu-chat/internal/chat"
	"jinokyu-chat/internal/cloudsync"
	"jinokyu-chat/internal/message"
	"jinokyu-chat/internal/settings"
	"jinokyu-chat/internal/store"
)

type config struct {
	DataDir   string
	Username  string
	Room      string
	Remote    string
	Token     string
	SendText  string
	Attach    string
	History   bool
	Follow    bool
	Export    string
	Import    string
	DeleteAll bool
}

func loadConfig() *config {
	cfg := &config{}
	flag.StringVar(&cfg.DataDir, "data-dir", "jinokyu-data", "base directory for local chat data")
	flag.StringVar(&cfg.Username, "username", "Bạn", "display name for outgoing messages")
	flag.StringVar(&cfg.Room, "room", "chung", "room to talk in")
	flag.StringVar(&cfg.Remote, "remote", "", "sync server base url (empty = local only)")
	flag.StringVar(&cfg.Token, "token", "", "bearer token for the sync server")
	flag.StringVar(&cfg.SendText, "send", "", "send this text and exit")
	flag.StringVar(&cfg.Attach, "attach", "", "comma-separated files to attach to -send")
	flag.BoolVar(&cfg.History, "history", false, "print chat history")
	flag.BoolVar(&cfg.Follow, "follow", false, "keep streaming history updates (sync mode)")
	flag.StringVar(&cfg.Export, "export", "", "write a backup to this path")
	flag.StringVar(&cfg.Import, "import", "", "replay a backup from this path")
	flag.BoolVar(&cfg.DeleteAll, "delete-all", false, "wipe all chat history")
	flag.Parse()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "init data dir: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	cfg := loadConfig()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	prefs := settings.Load(filepath.Join(cfg.DataDir, "settings.json"))
	local := store.Open(filepath.Join(cfg.DataDir, "chat.db"), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var facade *cloudsync.Facade
	if cfg.Remote != "" {
		facade = cloudsync.NewFacade(logger)
		if !facade.Enable(ctx, cloudsync.Config{BaseURL: cfg.Remote, Room: cfg.Room, Token: cfg.Token}) {
			logger.Warn().Str("remote", cfg.Remote).Msg("sync unavailable, continuing local-only")
		}
	}

	svc := chat.New(local, facade, prefs, logger)
	defer svc.Close()

	switch {
	case cfg.SendText != "" || cfg.Attach != "":
		runSend(ctx, svc, cfg)
	case cfg.Export != "":
		runExport(svc, cfg.Export)
	case cfg.Import != "":
		runImport(svc, prefs, cfg.Import)
	case cfg.DeleteAll:
		runDeleteAll(ctx, svc, prefs)
	case cfg.History || cfg.Follow:
		runHistory(ctx, svc, cfg.Follow)
	default:
		flag.Usage()
	}
}

func runSend(ctx context.Context, svc *chat.Service, cfg *config) {
	var files []cloudsync.File
	if cfg.Attach != "" {
		for _, path := range strings.Split(cfg.Attach, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				fatal("read attachment: %v", err)
			}
			files = append(files, cloudsync.File{
				Name: filepath.Base(path),
				Mime: mime.TypeByExtension(filepath.Ext(path)),
				Data: data,
			})
		}
	}
	id, err := svc.Send(ctx, cfg.Username, cfg.SendText, files)
	if err != nil {
		fatal("send: %v", err)
	}
	fmt.Printf("sent %s\n", id)
}

func runHistory(ctx context.Context, svc *chat.Service, follow bool) {
	render := func(msgs []message.Message) {
		fmt.Print("\033[H\033[2J")
		for _, m := range msgs {
			line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format(time.Kitchen), m.SenderID, m.Content)
			for _, att := range m.Attachments {
				if att.Resolved() {
					line += fmt.Sprintf(" (%s %s)", att.Name, att.URL)
				} else {
					line += fmt.Sprintf(" (%s local:%s)", att.Name, att.LocalID)
				}
			}
			fmt.Println(line)
		}
	}
	stopFn, err := svc.History(render, func(err error) {
		fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
	})
	if err != nil {
		fatal("history: %v", err)
	}
	defer stopFn()
	if follow && svc.Synced() {
		<-ctx.Done()
	}
}

func runExport(svc *chat.Service, path string) {
	f, err := os.Create(path)
	if err != nil {
		fatal("create backup: %v", err)
	}
	defer f.Close()
	if err := svc.Export(f); err != nil {
		fatal("export: %v", err)
	}
	fmt.Printf("backup written to %s\n", path)
}

func runImport(svc *chat.Service, prefs settings.Settings, path string) {
	f, err := os.Open(path)
	if err != nil {
		fatal("open backup: %v", err)
	}
	defer f.Close()
	res, err := svc.Import(f)
	if err != nil {
		fatal("%s (%v)", prefs.Notice("import-error"), err)
	}
	fmt.Printf("%s (%d imported, %d skipped)\n", prefs.Notice("import-success"), res.Imported, res.Skipped)
}

func runDeleteAll(ctx context.Context, svc *chat.Service, prefs settings.Settings) {
	if err := svc.DeleteAll(ctx); err != nil {
		fatal("delete all: %v", err)
	}
	fmt.Println(prefs.Notice("delete-success"))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

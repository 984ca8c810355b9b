// Package cmd wires up the CLI flags and runs the chat server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"linechat/config"
	"linechat/internal/chat"
	"linechat/internal/discovery"
	"linechat/internal/errors"
	"linechat/internal/metrics"
	"linechat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X linechat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Exit statuses.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitBindError = 2
)

// ExitCode maps the error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.IsBindFailure(err):
		return ExitBindError
	default:
		return ExitFailure
	}
}

// Execute parses args and runs the server until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, os.Stderr)
}

// flagValues holds raw flag values; only flags the user actually set are
// applied on top of the loaded configuration.
type flagValues struct {
	host         string
	port         int
	maxLine      int
	readChunk    int
	backlog      int
	welcome      string
	echo         bool
	labelPort    bool
	writeTimeout time.Duration
	mdns         bool
	mdnsName     string
	stats        bool
	verbose      int
	logFormat    string
	configPath   string
	envFile      string
	showVersion  bool
	showHelp     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var fv flagValues
	fs := flag.NewFlagSet("linechat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&fv.host, "host", "H", "", "Bind address (default: all interfaces)")
	fs.IntVarP(&fv.port, "port", "p", config.DefaultPort, "Port to listen on (0 picks a free one)")
	fs.IntVar(&fv.backlog, "backlog", config.DefaultBacklog, "listen(2) backlog")

	// ── chat ─────────────────────────────────────────────────────
	fs.IntVar(&fv.maxLine, "max-line", config.DefaultMaxLineLength, "Line buffer size per client")
	fs.IntVar(&fv.readChunk, "read-chunk", config.DefaultReadChunk, "Bytes read per wakeup")
	fs.StringVar(&fv.welcome, "welcome", config.DefaultWelcome, "Greeting sent on connect (empty disables)")
	fs.BoolVarP(&fv.echo, "echo", "e", false, "Echo lines back to their sender")
	fs.BoolVar(&fv.labelPort, "label-port", false, "Label senders as ip:port instead of ip")
	fs.DurationVar(&fv.writeTimeout, "write-timeout", config.DefaultWriteTimeout, "Drop a client that stalls a send this long")

	// ── discovery ────────────────────────────────────────────────
	fs.BoolVar(&fv.mdns, "mdns", false, "Advertise the server over mDNS")
	fs.StringVar(&fv.mdnsName, "mdns-name", "", "mDNS instance name (default linechat-<hostname>)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&fv.logFormat, "log-format", config.DefaultLogFormat, "Log encoder: console or json")
	fs.BoolVar(&fv.stats, "stats", false, "Print connection statistics on shutdown (JSON with --log-format json)")

	// ── config sources ───────────────────────────────────────────
	fs.StringVarP(&fv.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&fv.envFile, "env-file", config.DefaultDotEnv, "dotenv file (missing is fine)")

	fs.BoolVar(&fv.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&fv.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fv.showHelp {
		printUsage(stderr, fs)
		return nil
	}
	if fv.showVersion {
		fmt.Fprintf(stdout, "linechat %s\n", version)
		return nil
	}

	// ── configuration ────────────────────────────────────────────
	cfg, err := config.Load(fv.configPath, fv.envFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, fs, &fv)
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLoggerWith(cfg.Verbose, util.LogOptions{
		Output:     stderr,
		JSON:       cfg.JSONLogs(),
		Timestamps: cfg.Verbose >= int(util.LogDebug) || cfg.JSONLogs(),
		Color:      stderr == io.Writer(os.Stderr) && term.IsTerminal(int(os.Stderr.Fd())),
	})
	defer logger.Sync()

	var m *metrics.Collector
	if cfg.Stats {
		m = metrics.New()
	}

	srv, err := chat.New(cfg.Server(), logger, m)
	if err != nil {
		return err
	}
	if err := srv.Listen(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "server: Listening on port %d\n", srv.Port())

	if cfg.MDNS {
		ad, err := discovery.Advertise(ctx, discovery.Service{
			Instance: cfg.MDNSInstance,
			Port:     srv.Port(),
			Version:  version,
			MaxLine:  cfg.MaxLineLength,
		}, logger)
		if err != nil {
			logger.Warn("mdns: %v", err)
		} else {
			defer ad.Shutdown()
		}
	}

	// ── serve ────────────────────────────────────────────────────
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}

	if cfg.Stats {
		if cfg.JSONLogs() {
			fmt.Fprintln(stdout, m.JSON())
		} else {
			m.WriteTable(stdout)
		}
	}
	fmt.Fprintln(stderr, "server: shut down gracefully.")
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, fv *flagValues) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = fv.host
		case "port":
			cfg.Port = fv.port
		case "backlog":
			cfg.Backlog = fv.backlog
		case "max-line":
			cfg.MaxLineLength = fv.maxLine
		case "read-chunk":
			cfg.ReadChunk = fv.readChunk
		case "welcome":
			cfg.Welcome = fv.welcome
		case "echo":
			cfg.Echo = fv.echo
		case "label-port":
			cfg.LabelWithPort = fv.labelPort
		case "write-timeout":
			cfg.WriteTimeout = fv.writeTimeout
		case "mdns":
			cfg.MDNS = fv.mdns
		case "mdns-name":
			cfg.MDNSInstance = fv.mdnsName
		case "stats":
			cfg.Stats = fv.stats
		case "verbose":
			cfg.Verbose = fv.verbose
		case "log-format":
			cfg.LogFormat = fv.logFormat
		}
	})
}

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 1:
		port, err := strconv.Atoi(remaining[0])
		if err != nil {
			return &errors.ConfigError{
				Field:   "port",
				Value:   remaining[0],
				Message: "not a number",
			}
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `linechat – multi-client line chat server v%s

Every line a client sends is relayed to every other client, prefixed
with the sender's address.

Usage:
  linechat [options] [port]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  linechat 5555                               Chat on port 5555
  linechat -H 127.0.0.1 -p 0 -v               Loopback only, free port
  linechat --echo --label-port 5555           Echo to sender, ip:port labels
  linechat --mdns --mdns-name lobby 5555      Advertise as "lobby"
  nc localhost 5555                           Join from a shell
`)
}

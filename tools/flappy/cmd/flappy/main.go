package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"

	"flappysync/internal/auth"
	"flappysync/internal/config"
	"flappysync/internal/logging"
	"flappysync/internal/match"
	"flappysync/internal/protocol"
	"flappysync/internal/replay"
	"flappysync/internal/simulation"
	"flappysync/internal/transport"
	"flappysync/tools/flappy"
)

const (
	// keepRecordings bounds how many bundles stay in the record directory.
	keepRecordings = 20
	tokenTTL       = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flappy:", err)
		os.Exit(1)
	}
}

func run() error {
	roleFlag := flag.String("role", "", "1 or red (seeds rounds), 2 or blue, 3 or observer")
	roomFlag := flag.String("room", "", "optional room appended to the match topic")
	urlFlag := flag.String("url", "", "broker URL (tcp://, ssl://, ws://, wss://)")
	codecFlag := flag.String("codec", "", "wire codec: json, binary or msgpack")
	envFlag := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.LoadPeer(*envFlag)
	if err != nil {
		return err
	}
	//1.- Flags override the environment.
	if *roomFlag != "" {
		cfg.Room = *roomFlag
	}
	if *urlFlag != "" {
		cfg.BrokerURL = *urlFlag
	}
	if *codecFlag != "" {
		cfg.Codec = strings.ToLower(*codecFlag)
	}
	if *roleFlag != "" {
		cfg.Role = *roleFlag
	}

	role, err := resolveRole(cfg.Role, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	codec, err := protocol.Lookup(cfg.Codec)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, "flappy")
	if err != nil {
		return err
	}
	defer logger.Sync()

	id := "player-" + uuid.NewString()
	topic := cfg.MatchTopic()
	log := logger.With(logging.String("peer", id), logging.String("role", role.String()), logging.String("topic", topic))

	linkOpts, err := linkOptions(cfg, id, topic, codec.Name() != protocol.CodecJSON, log)
	if err != nil {
		return err
	}
	link, err := transport.Open(linkOpts)
	if err != nil {
		return err
	}

	opts := []match.SessionOption{
		match.WithInboxSize(cfg.InboxSize),
		match.WithPublishInterval(cfg.PublishInterval),
		match.WithLogger(log),
	}
	step := time.Duration(float64(time.Second) / cfg.TickHz)
	var recorder *replay.Recorder
	if cfg.RecordDir != "" {
		replay.NewCleaner(cfg.RecordDir, replay.RetentionPolicy{MaxMatches: keepRecordings}, log).Sweep()
		writer, _, err := replay.NewWriter(cfg.RecordDir, cfg.Room, nil)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		writer.SetHeader(replay.Header{PeerID: id, Role: role.String(), Topic: topic, Codec: codec.Name()})
		recorder = replay.NewRecorder(writer, step, log)
		opts = append(opts, match.WithRecorder(recorder, 0))
		log.Info("recording match", logging.String("directory", writer.Directory()))
	}
	session := match.NewSession(role, id, codec, link, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transportDone := make(chan error, 1)
	go func() { transportDone <- link.Run(ctx, session.Deliver) }()

	monitor := simulation.NewTickMonitor(step)
	loop := simulation.NewLoop(cfg.TickHz, session.Tick, simulation.WithMonitor(monitor))
	loop.Start(ctx)

	screen, err := tcell.NewScreen()
	if err == nil {
		err = screen.Init()
	}
	if err != nil {
		loop.Stop()
		return fmt.Errorf("open terminal: %w", err)
	}
	term := flappy.NewTerminal(screen, flappy.DefaultFrameRate)
	term.Room = cfg.Room
	runErr := term.Run(ctx, session)
	screen.Fini()

	//2.- Stop the tick before the transport so no publish races the shutdown.
	loop.Stop()
	stop()
	if err := <-transportDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("transport stopped with error", logging.Error(err))
	}
	if err := recorder.Close(); err != nil {
		log.Warn("closing recording failed", logging.Error(err))
	}

	stats, ticks := session.Stats(), monitor.Snapshot()
	log.Info("session finished",
		logging.Uint64("ticks", stats.Ticks),
		logging.Uint64("published", stats.Published),
		logging.Uint64("malformed", stats.Malformed),
		logging.Uint64("inbox_overflow", stats.InboxOverflow),
		logging.Duration("tick_avg", ticks.Average),
		logging.Int("tick_overrun", ticks.Overrun),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// resolveRole parses the configured role or, when none is set, asks on in.
func resolveRole(raw string, in io.Reader, out io.Writer) (match.Role, error) {
	if strings.TrimSpace(raw) != "" {
		return match.ParseRole(raw)
	}
	reader := bufio.NewReader(in)
	for attempt := 0; attempt < 3; attempt++ {
		fmt.Fprint(out, "Choose a role: 1) player A (red)  2) player B (blue)  3) observer: ")
		line, err := reader.ReadString('\n')
		role, parseErr := match.ParseRole(line)
		if parseErr == nil {
			return role, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read role: %w", err)
		}
		fmt.Fprintln(out, parseErr)
	}
	return 0, errors.New("no valid role chosen")
}

// linkOptions describes the transport for this peer, signing relay tokens when a secret is set.
func linkOptions(cfg *config.PeerConfig, id, topic string, binary bool, log *logging.Logger) (transport.Options, error) {
	opts := transport.Options{
		URL:            cfg.BrokerURL,
		Topic:          topic,
		ClientID:       id,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         log,
		BinaryFrames:   binary,
	}
	if cfg.AuthSecret == "" {
		return opts, nil
	}
	signer, err := auth.NewSigner(cfg.AuthSecret, tokenTTL)
	if err != nil {
		return transport.Options{}, err
	}
	opts.Token = func() (string, error) { return signer.Issue(id, topic) }
	return opts, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultBrokerURL is the public MQTT broker the two-player game has always met on.
	DefaultBrokerURL = "tcp://broker.emqx.io:1883"
	// DefaultTopic is the shared topic every participant of a match publishes to.
	DefaultTopic = "flappybird2player/game"
	// DefaultCodec keeps the JSON wire format readable by other implementations.
	DefaultCodec = "json"
	// DefaultTickHz is the nominal simulation rate.
	DefaultTickHz = 60
	// DefaultPublishInterval throttles outbound snapshots in simulation time.
	DefaultPublishInterval = 50 * time.Millisecond
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultInboxSize bounds the queue between message arrival and the tick.
	DefaultInboxSize = 256
	// DefaultPeerLogPath keeps peer logs away from the terminal frontend.
	DefaultPeerLogPath = "flappy.log"
)

var knownCodecs = []string{"json", "binary", "msgpack"}

// PeerConfig captures the runtime tunables of a game process.
type PeerConfig struct {
	BrokerURL       string
	Topic           string
	Room            string
	Role            string
	Codec           string
	TickHz          float64
	PublishInterval time.Duration
	ConnectTimeout  time.Duration
	InboxSize       int
	RecordDir       string
	AuthSecret      string
	Logging         LoggingConfig
}

// MatchTopic returns the topic namespaced by the optional room identifier.
func (c *PeerConfig) MatchTopic() string {
	if c == nil {
		return DefaultTopic
	}
	topic := strings.TrimRight(c.Topic, "/")
	if c.Room == "" {
		return topic
	}
	return topic + "/" + c.Room
}

// LoadPeer reads FLAPPY_* variables, first merging the optional dotenv files. Variables already
// present in the process environment win over dotenv values.
func LoadPeer(envFiles ...string) (*PeerConfig, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return nil, err
	}

	cfg := &PeerConfig{
		BrokerURL:       getString("FLAPPY_BROKER_URL", DefaultBrokerURL),
		Topic:           getString("FLAPPY_TOPIC", DefaultTopic),
		Room:            strings.TrimSpace(os.Getenv("FLAPPY_ROOM")),
		Role:            strings.ToLower(strings.TrimSpace(os.Getenv("FLAPPY_ROLE"))),
		Codec:           strings.ToLower(getString("FLAPPY_CODEC", DefaultCodec)),
		TickHz:          DefaultTickHz,
		PublishInterval: DefaultPublishInterval,
		ConnectTimeout:  DefaultConnectTimeout,
		InboxSize:       DefaultInboxSize,
		RecordDir:       strings.TrimSpace(os.Getenv("FLAPPY_RECORD_DIR")),
		AuthSecret:      strings.TrimSpace(os.Getenv("FLAPPY_AUTH_SECRET")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("FLAPPY_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("FLAPPY_LOG_PATH", DefaultPeerLogPath)),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}

	var problems []string

	if _, err := url.Parse(cfg.BrokerURL); err != nil || !strings.Contains(cfg.BrokerURL, "://") {
		problems = append(problems, fmt.Sprintf("FLAPPY_BROKER_URL must be an absolute URL, got %q", cfg.BrokerURL))
	}

	if strings.Contains(cfg.Room, "/") || strings.ContainsAny(cfg.Room, "#+") {
		problems = append(problems, fmt.Sprintf("FLAPPY_ROOM must not contain topic separators or wildcards, got %q", cfg.Room))
	}

	if !containsString(knownCodecs, cfg.Codec) {
		problems = append(problems, fmt.Sprintf("FLAPPY_CODEC must be one of %s, got %q", strings.Join(knownCodecs, ", "), cfg.Codec))
	}

	if raw := strings.TrimSpace(os.Getenv("FLAPPY_TICK_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLAPPY_TICK_HZ must be a positive number, got %q", raw))
		} else {
			cfg.TickHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLAPPY_PUBLISH_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLAPPY_PUBLISH_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PublishInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLAPPY_CONNECT_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLAPPY_CONNECT_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.ConnectTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLAPPY_INBOX_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLAPPY_INBOX_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.InboxSize = value
		}
	}

	problems = append(problems, loadLogging("FLAPPY", &cfg.Logging)...)

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		//1.- Missing dotenv files are optional; malformed ones are configuration errors.
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func containsString(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}

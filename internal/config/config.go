package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

// Messenger platforms
const (
	MessengerDiscord  = "discord"
	MessengerTelegram = "telegram"
	MessengerNone     = "none"
)

// Config holds the application configuration
type Config struct {
	Port       string
	TrustProxy bool

	StoreDriver string
	DatabaseURL string
	BoltPath    string

	Messenger             string
	DiscordToken          string
	GuildID               string
	VerifiedRoleID        string
	VerificationChannelID string
	AnnounceOnStart       bool
	TelegramToken         string
	TelegramChatID        int64

	VerificationServer string

	ReceiptSecret string
	ReceiptTTL    time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		StoreDriver:     StoreMemory,
		BoltPath:        "walletgate.db",
		Messenger:       MessengerDiscord,
		AnnounceOnStart: true,
		ReceiptTTL:      24 * time.Hour,
		LogLevel:        slog.LevelInfo,
		LogFormat:       "text",
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if trust := os.Getenv("TRUST_PROXY"); trust != "" {
		b, err := strconv.ParseBool(trust)
		if err != nil {
			return nil, fmt.Errorf("TRUST_PROXY must be a boolean, got %q", trust)
		}
		cfg.TrustProxy = b
	}

	if err := cfg.loadStore(); err != nil {
		return nil, err
	}
	if err := cfg.loadMessenger(); err != nil {
		return nil, err
	}

	cfg.VerificationServer = strings.TrimRight(strings.TrimSpace(os.Getenv("VERIFICATION_SERVER")), "/")
	if cfg.Messenger != MessengerNone && cfg.VerificationServer == "" {
		return nil, fmt.Errorf("VERIFICATION_SERVER environment variable is required")
	}

	cfg.ReceiptSecret = os.Getenv("RECEIPT_SECRET")
	if ttl := os.Getenv("RECEIPT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("RECEIPT_TTL must be a positive duration, got %q", ttl)
		}
		cfg.ReceiptTTL = d
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
	}
	if format := strings.ToLower(os.Getenv("LOG_FORMAT")); format != "" {
		if format != "text" && format != "json" {
			return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", format)
		}
		cfg.LogFormat = format
	}

	return cfg, nil
}

func (cfg *Config) loadStore() error {
	if driver := strings.ToLower(os.Getenv("STORE_DRIVER")); driver != "" {
		cfg.StoreDriver = driver
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for STORE_DRIVER=postgres")
		}
	case StoreBolt:
		if path := os.Getenv("BOLT_PATH"); path != "" {
			cfg.BoltPath = path
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (memory, postgres or bolt)", cfg.StoreDriver)
	}
	return nil
}

func (cfg *Config) loadMessenger() error {
	if m := strings.ToLower(os.Getenv("MESSENGER")); m != "" {
		cfg.Messenger = m
	}
	switch cfg.Messenger {
	case MessengerNone:
	case MessengerDiscord:
		for _, v := range []struct {
			name string
			dst  *string
		}{
			{"DISCORD_TOKEN", &cfg.DiscordToken},
			{"GUILD_ID", &cfg.GuildID},
			{"VERIFIED_ROLE_ID", &cfg.VerifiedRoleID},
		} {
			*v.dst = strings.TrimSpace(os.Getenv(v.name))
			if *v.dst == "" {
				return fmt.Errorf("%s environment variable is required", v.name)
			}
		}
		cfg.VerificationChannelID = strings.TrimSpace(os.Getenv("VERIFICATION_CHANNEL_ID"))
		if announce := os.Getenv("ANNOUNCE_ON_START"); announce != "" {
			b, err := strconv.ParseBool(announce)
			if err != nil {
				return fmt.Errorf("ANNOUNCE_ON_START must be a boolean, got %q", announce)
			}
			cfg.AnnounceOnStart = b
		}
	case MessengerTelegram:
		cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
		if cfg.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_TOKEN environment variable is required")
		}
		chatID := os.Getenv("TELEGRAM_CHAT_ID")
		if chatID == "" {
			return fmt.Errorf("TELEGRAM_CHAT_ID environment variable is required")
		}
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID must be an integer, got %q", chatID)
		}
		cfg.TelegramChatID = id
	default:
		return fmt.Errorf("unknown MESSENGER %q (discord, telegram or none)", cfg.Messenger)
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func (cfg *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	WSURL                string
	PingInterval         time.Duration
	PongTimeout          time.Duration
	ReconnectInitialWait time.Duration
	MaxReconnectAttempts uint64
	CachePath            string
	LogLevel             string
}

func Load() *Config {
	cfg := &Config{
		WSURL:                "wss://chat.klique.app/ws",
		PingInterval:         5 * time.Second,
		PongTimeout:          7 * time.Second,
		ReconnectInitialWait: 3 * time.Second,
		MaxReconnectAttempts: 10,
		CachePath:            "klique.db",
		LogLevel:             "info",
	}

	if url := os.Getenv("KLIQUE_WS_URL"); url != "" {
		cfg.WSURL = url
	}

	if s := os.Getenv("KLIQUE_PING_INTERVAL"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			cfg.PingInterval = time.Duration(secs) * time.Second
		}
	}

	if s := os.Getenv("KLIQUE_PONG_TIMEOUT"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			cfg.PongTimeout = time.Duration(secs) * time.Second
		}
	}

	if s := os.Getenv("KLIQUE_RECONNECT_WAIT"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			cfg.ReconnectInitialWait = time.Duration(secs) * time.Second
		}
	}

	if s := os.Getenv("KLIQUE_RECONNECT_ATTEMPTS"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
			cfg.MaxReconnectAttempts = n
		}
	}

	if path := os.Getenv("KLIQUE_CACHE_PATH"); path != "" {
		cfg.CachePath = path
	}

	if level := os.Getenv("KLIQUE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg
}

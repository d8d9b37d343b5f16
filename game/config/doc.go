// Package config loads the server configuration.
//
// Values come from the environment (optionally seeded from a .env file)
// and are parsed with caarlos0/env. Command line flags in main override
// whatever the environment set.
//
// Environment variables:
//
//	HOST, PORT, DEBUG, API_URL
//	LOG_LEVEL, LOG_FORMAT, LOG_FILE, LOG_MAX_SIZE_MB, LOG_MAX_BACKUPS, LOG_MAX_AGE_DAYS
//	STORE_BACKEND (memory|file|redis), STORE_SESSIONS_DIR
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_KEY_PREFIX, REDIS_TTL
//	GAME_ABANDONED_LOBBY_AGE, GAME_FINISHED_RETENTION, GAME_SWEEP_INTERVAL
//	WS_POOL_SIZE
//	NGROK_ENABLED, NGROK_AUTHTOKEN (or NGROK_AUTH_TOKEN), NGROK_DOMAIN
//
// Durations use time.ParseDuration syntax, e.g. "60m" or "24h".
package config

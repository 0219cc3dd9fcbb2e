package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"carelink/backend/internal/chathub"
	"carelink/backend/internal/config"
	"carelink/backend/internal/models"
	"carelink/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

  deactivate <user_id>          disable an account; open channels are refused on reconnect
  activate <user_id>            re-enable an account
  lock <user_id>                lock an account
  unlock <user_id>              unlock an account
  presence <user_id>            show the mirrored presence status
  stale-calls [minutes]         list calls waiting longer than minutes (default: waiting_grace_period)
  notify <user_id> <json>       publish a notification to a connected user`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	// Redis is only needed by the presence and notify commands.
	var rdb *redis.Client
	command := os.Args[1]
	if command == "presence" || command == "notify" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}
	storageSvc := storage.NewStorageService(db, rdb)

	switch command {
	case "deactivate", "activate", "lock", "unlock":
		if len(os.Args) != 3 {
			fmt.Printf("Usage: admin %s <user_id>\n", command)
			os.Exit(1)
		}
		userID := os.Args[2]
		if err := setAccountFlag(storageSvc, command, userID); err != nil {
			log.Fatal().Err(err).Str("user", userID).Msgf("%s failed", command)
		}
		fmt.Printf("Account %s has been %s.\n", userID, pastTense[command])
	case "presence":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin presence <user_id>")
			os.Exit(1)
		}
		status, found, err := storageSvc.GetPresence(os.Args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("presence lookup failed")
		}
		if !found {
			status = models.PresenceOffline
		}
		fmt.Printf("%s: %s\n", os.Args[2], status)
	case "stale-calls":
		grace := cfg.WaitingGracePeriod
		if len(os.Args) > 2 {
			minutes, err := strconv.Atoi(os.Args[2])
			if err != nil || minutes < 0 {
				fmt.Println("Invalid minutes. Please provide a non-negative integer.")
				os.Exit(1)
			}
			grace = time.Duration(minutes) * time.Minute
		}
		if err := printStaleCalls(storageSvc, grace); err != nil {
			log.Fatal().Err(err).Msg("stale call query failed")
		}
	case "notify":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin notify <user_id> <json>")
			os.Exit(1)
		}
		if err := publishNotification(storageSvc, os.Args[2], os.Args[3]); err != nil {
			log.Fatal().Err(err).Msg("notify failed")
		}
		fmt.Printf("Notification for %s published.\n", os.Args[2])
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

var pastTense = map[string]string{
	"deactivate": "deactivated",
	"activate":   "activated",
	"lock":       "locked",
	"unlock":     "unlocked",
}

func setAccountFlag(s storage.Storage, command, userID string) error {
	switch command {
	case "deactivate":
		return s.SetAccountActive(userID, false)
	case "activate":
		return s.SetAccountActive(userID, true)
	case "lock":
		return s.SetAccountLocked(userID, true)
	default:
		return s.SetAccountLocked(userID, false)
	}
}

func printStaleCalls(s storage.Storage, grace time.Duration) error {
	calls, err := s.ListStaleWaitingCalls(time.Now().Add(-grace))
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Println("No stale calls.")
		return nil
	}
	for _, c := range calls {
		waitingSince := c.PatientEnteredWaitingAt
		if waitingSince == nil || (c.DoctorEnteredWaitingAt != nil && c.DoctorEnteredWaitingAt.Before(*waitingSince)) {
			waitingSince = c.DoctorEnteredWaitingAt
		}
		since := "-"
		if waitingSince != nil {
			since = waitingSince.Format(time.RFC3339)
		}
		fmt.Printf("%s\tpatient=%s\tdoctor=%s\twaiting since %s\n", c.ID, c.PatientID, c.DoctorID, since)
	}
	return nil
}

func publishNotification(s storage.Storage, userID, raw string) error {
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("notification is not valid JSON: %w", models.ErrValidationFailed)
	}
	payload, err := json.Marshal(models.NotificationPayload{
		TargetUserID: userID,
		Notification: json.RawMessage(raw),
	})
	if err != nil {
		return err
	}
	return s.PublishNotification(chathub.NotificationChannel, payload)
}

package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"LineDesk/api"
	"LineDesk/broadcast"
	"LineDesk/config"
	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/menu"
	"LineDesk/scheduler"
	"LineDesk/steps"
	"LineDesk/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := utils.InitCrypto(cfg.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize crypto")
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	log.Info().Msg("connected to DB")

	var claims *utils.EventClaims
	if cfg.RedisURL != "" {
		claims, err = utils.NewEventClaims(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		log.Info().Msg("redis connection established")
	} else {
		log.Warn().Msg("REDIS_URL not set; webhook redelivery dedup disabled")
	}

	menus := menu.NewEngine(store)
	sweeper := menu.NewSweeper(menus, line.NewGateway)
	stepEngine := steps.NewEngine(store, line.NewGateway)
	broadcasts := broadcast.NewEngine(store, line.NewGateway)

	sched := scheduler.New(broadcasts, stepEngine, sweeper)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	server := api.NewServer(store, claims, menus, sweeper, stepEngine, broadcasts, cfg.CronSecret)
	router := SetupRouter(server)

	log.Info().Str("port", cfg.Port).Msg("server running")
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

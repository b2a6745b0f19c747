package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LineDesk/api"
)

func SetupRouter(server *api.Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", server.HandleHealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/webhook/{channelID}", server.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(server.RequireCronAuth)
		r.Post("/jobs/broadcasts", server.HandleBroadcastSweep)
		r.Post("/jobs/steps", server.HandleStepSweep)
		r.Post("/jobs/menus", server.HandleMenuSweep)
	})

	r.Route("/channels/{channelID}", func(r chi.Router) {
		r.Put("/password", server.HandleSetChannelPassword)
		r.Post("/richmenus/{menuID}/register", server.HandleRegisterRichMenu)
		r.Post("/users/{userID}/tags/{tagID}", server.HandleAssignTag)
		r.Delete("/users/{userID}/tags/{tagID}", server.HandleUnassignTag)
		r.Delete("/users/{userID}", server.HandleDeleteUser)
		r.Post("/scenarios/{scenarioID}/start", server.HandleStartScenario)
		r.Post("/messages/{messageID}/send", server.HandleSendMessage)
	})

	return r
}

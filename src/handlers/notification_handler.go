package handlers

import (
	"net/http"

	"fundflow-server/src/notify"
)

func GetNotifications(hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, hub.Recent(actor.ID))
	}
}

func StreamNotifications(hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		hub.Stream(w, r, actor.ID)
	}
}

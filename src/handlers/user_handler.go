package handlers

import (
	"log"
	"net/http"
	"strings"

	"fundflow-server/src/util"
)

func GetCurrentUser(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		user, err := users.GetUserByID(r.Context(), actor.ID)
		if err != nil {
			writeError(w, err, "get current user")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// CreateUser lets an admin register a budget owner or another admin.
func CreateUser(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
			Admin    bool   `json:"admin"`
		}
		if !decode(w, r, &req, "create user") {
			return
		}

		user, err := util.NewUser(req.Username, req.Email, req.Password, req.Admin)
		if err != nil {
			log.Printf("ERROR: User validation failed - Username: %s: %v", req.Username, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := users.CreateUser(r.Context(), user); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				log.Printf("ERROR: User creation failed - email or username already exists - Username: %s", req.Username)
				http.Error(w, "email or username already exists", http.StatusConflict)
				return
			}
			writeError(w, err, "create user")
			return
		}

		log.Printf("INFO: Admin %d created user %s (ID %d, role %s)", actor.ID, user.Username, user.ID, user.Role)
		writeJSON(w, http.StatusCreated, user)
	}
}


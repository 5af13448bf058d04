package http

import (
	"net/http"

	"github.com/aukilabs/stagesim/models"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleReadyCheck reports the world as ready until it is closed.
func HandleReadyCheck(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if world.Closed() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type versionResponse struct {
	Version   string `json:"version"`
	WorldUUID string `json:"world_uuid"`
}

// HandleVersion writes the stagesim version along with the served world
// UUID.
func HandleVersion(version string, world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, versionResponse{
			Version:   version,
			WorldUUID: world.UUID,
		})
	}
}

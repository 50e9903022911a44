package handlers

import (
	"net/http"

	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/lightcar-iot/lightcar/internal/metrics"
)

// HealthHandler reports that the service is up. It does not check the document store.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": constants.ServiceName,
	})
}

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	writeJSON(w, http.StatusOK, map[string]string{"version": constants.Version})
}

package httpserver

import (
	"encoding/json"
	"net/http"
)

type pumpRequestJSON struct {
	State string `json:"state"`
}

type pumpResponseJSON struct {
	Pump string `json:"pump"`
}

type statusJSON struct {
	Status string `json:"status"`
}

type apiErrorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, apiErrorJSON{Error: msg})
}

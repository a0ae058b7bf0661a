package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) Workflows(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if a.Templates != nil {
		names = append(names, a.Templates.Names()...)
	}
	a.json(w, http.StatusOK, map[string]any{"workflows": names})
}

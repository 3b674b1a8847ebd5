package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Plugin is a discovered plugin together with its lifecycle state
type Plugin struct {
	plugins.Record
	State plugins.State `json:"state"`
}

// PluginList is returned by the list and discover routes
type PluginList struct {
	Plugins []Plugin `json:"plugins"`
	Count   int      `json:"count"`
}

func (s *Server) pluginList(registry *plugins.Registry) PluginList {
	records := registry.Records()
	list := PluginList{
		Plugins: make([]Plugin, 0, len(records)),
		Count:   len(records),
	}
	for _, rec := range records {
		list.Plugins = append(list.Plugins, Plugin{Record: rec, State: s.manager.State(rec.Name)})
	}
	return list
}

// listPlugins handles GET /api/v1/plugins
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, s.pluginList(s.manager.Registry()))
}

// discoverPlugins handles POST /api/v1/plugins/discover
func (s *Server) discoverPlugins(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, s.pluginList(s.manager.FindPlugins(r.Context())))
}

// getPlugin handles GET /api/v1/plugins/{name}
func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rec, ok := s.manager.Registry().Get(name)
	if !ok {
		httputil.WriteNotFoundError(w, fmt.Sprintf("plugin not found: %s", name))
		return
	}

	_ = httputil.WriteSuccess(w, Plugin{Record: rec, State: s.manager.State(name)})
}

// loadPlugin handles POST /api/v1/plugins/{name}/load
func (s *Server) loadPlugin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rec, ok := s.manager.Registry().Get(name)
	if !ok {
		httputil.WriteNotFoundError(w, fmt.Sprintf("plugin not found: %s", name))
		return
	}

	if err := s.manager.LoadPlugin(r.Context(), name); err != nil {
		if errors.Is(err, plugins.ErrLoadInProgress) {
			httputil.WriteError(w, http.StatusConflict, err)
			return
		}
		if !isLoadFailure(err) {
			s.log.WithFields(logrus.Fields{
				"plugin":     name,
				"request_id": httputil.RequestID(r.Context()),
			}).WithError(err).Error("Load request failed")
			httputil.WriteInternalError(w, err)
			return
		}

		details := map[string]string{"plugin": name}
		var execErr *plugins.ExecError
		if errors.As(err, &execErr) {
			details["stage"] = execErr.Stage
		}
		httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, err, details)
		return
	}

	_ = httputil.WriteSuccess(w, Plugin{Record: rec, State: s.manager.State(name)})
}

// isLoadFailure reports whether err is a failure caused by the plugin itself
func isLoadFailure(err error) bool {
	return errors.Is(err, plugins.ErrEntryNotFound) ||
		errors.Is(err, plugins.ErrMainModuleNotFound) ||
		errors.Is(err, plugins.ErrNoEntryPoint) ||
		errors.Is(err, plugins.ErrPluginFailed)
}

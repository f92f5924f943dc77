package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// InstallRequest is the body of POST /modules.
type InstallRequest struct {
	Source  string `json:"source"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ModuleSummary is one entry of GET /modules.
type ModuleSummary struct {
	Name          string `json:"name"`
	Driver        string `json:"driver"`
	Version       string `json:"version"`
	DiscoverState string `json:"discover_state"`
	Devices       int    `json:"devices"`
	Source        string `json:"source,omitempty"`
}

// handleListModules lists loaded modules with their device counts.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for _, d := range s.devices.ListDevices() {
		counts[d.Module]++
	}
	sources := make(map[string]string)
	if installed, err := s.modules.Installed(r.Context()); err == nil {
		for _, md := range installed {
			sources[md.Name] = md.Source
		}
	}

	infos := s.modules.List()
	out := make([]ModuleSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, ModuleSummary{
			Name:          info.Name,
			Driver:        info.Driver,
			Version:       info.Version,
			DiscoverState: string(info.DiscoverState),
			Devices:       counts[info.Name],
			Source:        sources[info.Name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": out, "count": len(out)})
}

// handleInstallModule fetches a module manifest from a registry and loads it.
func (s *Server) handleInstallModule(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" || req.Name == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "source, name and version are required")
		return
	}

	if err := s.modules.InstallFromRegistry(r.Context(), req.Source, req.Name, req.Version); err != nil {
		s.logger.Warn("module install failed", "module", req.Name, "source", req.Source, "error", err)
		writeModuleError(w, err)
		return
	}
	info, _ := s.modules.Get(req.Name)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleUninstallModule(w http.ResponseWriter, r *http.Request) {
	if err := s.modules.Uninstall(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeModuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.modules.Reload(r.Context(), name); err != nil {
		writeModuleError(w, err)
		return
	}
	info, _ := s.modules.Get(name)
	writeJSON(w, http.StatusOK, info)
}

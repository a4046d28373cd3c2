package lib

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/uvensys/miaoeyes"
	"github.com/uvensys/miaoeyes/internal"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/configstore"
	"github.com/uvensys/miaoeyes/lib/stats"
)

// configSections are the parts of the configuration the admin API exposes
// on their own.
var configSections = map[string]func(*config.Config) any{
	"verification": func(c *config.Config) any { return c.Verification },
	"security":     func(c *config.Config) any { return c.Security },
}

func (s *Server) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Get().Config)
}

func readPatch(r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	return data, nil
}

// respondConfigError maps configstore errors onto the API error codes.
func (s *Server) respondConfigError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, configstore.ErrInvalidPatch), errors.Is(err, configstore.ErrInvalidConfig):
		s.respondWithCode(w, r, http.StatusBadRequest, codeValidation, err.Error())
	default:
		internal.GetRequestLogger(r).Error("can't update configuration", "err", err)
		s.respondWithCode(w, r, http.StatusInternalServerError, codeInternal)
	}
}

func (s *Server) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	patch, err := readPatch(r)
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	snap, err := s.config.Update(r.Context(), patch)
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	internal.GetRequestLogger(r).Info("configuration updated", "version", snap.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Configuration updated successfully",
		"config":  snap.Config,
	})
}

func (s *Server) ResetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.config.Reset(r.Context())
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	internal.GetRequestLogger(r).Info("configuration reset to defaults", "version", snap.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Configuration reset to default successfully",
		"config":  snap.Config,
	})
}

func (s *Server) GetConfigSection(w http.ResponseWriter, r *http.Request) {
	section, ok := configSections[r.PathValue("section")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	cfg := s.config.Get().Config
	writeJSON(w, http.StatusOK, section(&cfg))
}

// UpdateConfigSection merges the body into one section, keeping keys the
// body does not mention.
func (s *Server) UpdateConfigSection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("section")
	section, ok := configSections[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := readPatch(r)
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	patch, err := json.Marshal(map[string]json.RawMessage{name: body})
	if err != nil {
		s.respondConfigError(w, r, errors.Join(ErrValidation, err))
		return
	}

	snap, err := s.config.Update(r.Context(), patch)
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	internal.GetRequestLogger(r).Info("configuration section updated", "section", name, "version", snap.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  strings.ToUpper(name[:1]) + name[1:] + " settings updated successfully",
		"settings": section(&snap.Config),
	})
}

type whitelistRequest struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

// UpdateWhitelist adds or removes one allow-list entry. kind is ip or
// useragent, action is add or remove.
func (s *Server) UpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	kind, action := r.PathValue("kind"), r.PathValue("action")
	if (kind != "ip" && kind != "useragent") || (action != "add" && action != "remove") {
		http.NotFound(w, r)
		return
	}

	var req whitelistRequest
	if err := decodeBody(r, &req, func(form map[string][]string) {
		req.IPAddress = first(form["ipAddress"])
		req.UserAgent = first(form["userAgent"])
	}); err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	entry, label := strings.TrimSpace(req.IPAddress), "IP address"
	if kind == "useragent" {
		entry, label = strings.TrimSpace(req.UserAgent), "User-Agent"
	}

	if entry == "" {
		s.respondWithCode(w, r, http.StatusBadRequest, codeValidation, label+" is required")
		return
	}

	if kind == "ip" {
		if _, err := config.ParseIPEntry(entry); err != nil {
			s.respondWithCode(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
	}

	var found bool
	snap, err := s.config.Mutate(r.Context(), func(cfg *config.Config) (bool, error) {
		list := &cfg.Security.Whitelist.IPAddresses
		if kind == "useragent" {
			list = &cfg.Security.Whitelist.UserAgents
		}

		idx := slices.Index(*list, entry)
		found = idx != -1

		switch {
		case action == "add" && !found:
			*list = append(*list, entry)
			return true, nil
		case action == "remove" && found:
			*list = slices.Delete(*list, idx, idx+1)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		s.respondConfigError(w, r, err)
		return
	}

	lg := internal.GetRequestLogger(r)

	switch {
	case action == "add" && found:
		writeJSON(w, http.StatusOK, map[string]any{"message": label + " is already in whitelist"})
	case action == "add":
		lg.Info("whitelist entry added", "kind", kind, "entry", entry, "version", snap.Version)
		writeJSON(w, http.StatusOK, map[string]any{"message": label + " added to whitelist successfully"})
	case !found:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": label + " not found in whitelist"})
	default:
		lg.Info("whitelist entry removed", "kind", kind, "entry", entry, "version", snap.Version)
		writeJSON(w, http.StatusOK, map[string]any{"message": label + " removed from whitelist successfully"})
	}
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.stats.(stats.Reader)
	if !ok {
		writeJSON(w, http.StatusOK, stats.Snapshot{}.Report(time.Now()))
		return
	}

	writeJSON(w, http.StatusOK, reader.Snapshot().Report(time.Now()))
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"version":       miaoeyes.Version,
		"uptime":        time.Since(s.started).Seconds(),
		"sessions":      s.sessions.Len(),
		"configVersion": s.config.Get().Version,
	})
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusPage is the open root page: where the device is, what it runs, and a
// link to the updater. Mirrors what a field tech needs when they walk up to
// the unit with a laptop.
func (h *UpdateHandler) StatusPage(w http.ResponseWriter, r *http.Request) {
	data := statusPageData{
		Address:      r.Host,
		Version:      h.cfg.Version,
		Slot:         "?",
		RadioPresent: h.deps.RadioPresent,
		SessionState: string(h.deps.Session.State()),
	}
	if h.slots != nil {
		slot, version, _ := h.slots.Active()
		data.Slot = slot
		if version != "" {
			data.Version = version
		}
	}
	if hi, err := host.Info(); err == nil {
		data.Uptime = (time.Duration(hi.Uptime) * time.Second).String()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = statusTmpl.Execute(w, data)
}

// StatusJSON reports device and session state for the fleet tooling.
func (h *UpdateHandler) StatusJSON(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"version":       h.cfg.Version,
		"radio_present": h.deps.RadioPresent,
		"session_state": h.deps.Session.State(),
		"time":          time.Now().UTC(),
	}
	if h.slots != nil {
		slot, version, updatedAt := h.slots.Active()
		out["active_slot"] = slot
		if version != "" {
			out["version"] = version
		}
		if !updatedAt.IsZero() {
			out["updated_at"] = updatedAt
		}
	}
	if hi, err := host.Info(); err == nil {
		out["hostname"] = hi.Hostname
		out["uptime_sec"] = hi.Uptime
		out["platform"] = hi.Platform
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["mem_total"] = vm.Total
		out["mem_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

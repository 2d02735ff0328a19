package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vmark/vmark-node/pkg/forwarding"
	"github.com/vmark/vmark-node/pkg/twamp"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// writeEngineError maps forwarding error kinds to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forwarding.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, forwarding.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, forwarding.ErrConflict), errors.Is(err, forwarding.ErrStateViolation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, forwarding.ErrPermission):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	rules := s.engine.List()
	active := 0
	for _, r := range rules {
		if r.Active {
			active++
		}
	}
	writeOK(w, StatusResponse{
		Uptime:      time.Since(s.startTime).Truncate(time.Second).String(),
		RuleCount:   len(rules),
		ActiveRules: active,
		Sessions:    len(s.sessions.List()),
	})
}

func (s *Server) listRulesHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Show(r.URL.Query().Get("filter"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, RulesResponse{Rules: res.Rules, NotApplied: res.NotApplied})
}

func (s *Server) createRuleHandler(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rule, err := s.engine.CreateRule(r.Context(), req.params())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, rule)
}

func (s *Server) getRuleHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Show(r.PathValue("name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, res.Rules[0])
}

func (s *Server) updateRuleHandler(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Name = r.PathValue("name")
	rule, err := s.engine.UpdateRule(r.Context(), req.params())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, rule)
}

func (s *Server) deleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), r.PathValue("name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) enableRuleHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnableRule(r.Context(), r.PathValue("name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) disableRuleHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DisableRule(r.Context(), r.PathValue("name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) interfacesHandler(w http.ResponseWriter, r *http.Request) {
	infos, err := s.ifm.List(r.URL.Query().Get("all") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, infos)
}

func (s *Server) twampSessionsHandler(w http.ResponseWriter, _ *http.Request) {
	type sessionJSON struct {
		Name      string        `json:"name"`
		Kind      string        `json:"kind"`
		Target    string        `json:"target"`
		StartedAt time.Time     `json:"started_at"`
		Running   bool          `json:"running"`
		Result    *twamp.Result `json:"result,omitempty"`
		Error     string        `json:"error,omitempty"`
	}
	var out []sessionJSON
	for _, s := range s.sessions.List() {
		j := sessionJSON{
			Name:      s.Name,
			Kind:      string(s.Kind),
			Target:    s.Target,
			StartedAt: s.StartedAt,
			Running:   s.Running,
			Result:    s.Result,
		}
		if s.Err != nil {
			j.Error = s.Err.Error()
		}
		out = append(out, j)
	}
	writeOK(w, out)
}

func (s *Server) twampSenderHandler(w http.ResponseWriter, r *http.Request) {
	var req TwampSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	tos := req.TOS
	if req.DSCP != nil {
		d, ok := twamp.DSCPValue(strings.ToLower(*req.DSCP))
		if !ok {
			if n, err := strconv.Atoi(*req.DSCP); err == nil && n >= 0 && n <= 63 {
				d = n
			} else {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown dscp %q", *req.DSCP))
				return
			}
		}
		tos = twamp.TOSFromDSCP(d)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("sender-%s-%d", req.Destination, req.Port)
	}
	opts := twamp.SenderOptions{
		Destination: req.Destination,
		Port:        req.Port,
		Count:       req.Count,
		Interval:    time.Duration(req.IntervalMs) * time.Millisecond,
		Padding:     req.Padding,
		TTL:         req.TTL,
		TOS:         tos,
		DF:          req.DF,
	}
	if err := s.sessions.StartSender(context.Background(), name, opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]string{"session": name})
}

func (s *Server) twampResponderHandler(w http.ResponseWriter, r *http.Request) {
	var req TwampResponderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("responder-%d", req.Port)
	}
	opts := twamp.ResponderOptions{
		Address: req.Address,
		Port:    req.Port,
		Padding: req.Padding,
		TTL:     req.TTL,
		TOS:     req.TOS,
		DF:      req.DF,
		IPv6:    req.IPv6,
	}
	if err := s.sessions.StartResponder(context.Background(), name, opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]string{"session": name})
}

func (s *Server) twampStopHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.PathValue("name")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) logHandler(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	writeOK(w, s.logBuf.Last(n))
}

// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mgmtapi implements the http management API of the steering
// service.
package mgmtapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
	api "github.com/flowsteer/flowsteer/private/mgmtapi"
	"github.com/flowsteer/flowsteer/private/steering/program"
	"github.com/flowsteer/flowsteer/private/steering/ruleset"
)

var errIngressDisabled = errors.New("ingress disabled")

// Server implements the management API.
type Server struct {
	Config   http.HandlerFunc
	LogLevel http.Handler
	Rules    *ruleset.Manager
	// Ingress serves frames sent with async=true. Without it asynchronous
	// sending is unavailable.
	Ingress *program.Ingress
}

// Handler returns the routes of s mounted below base on r. Handlers log with
// a logger labeled with the request method and path.
func Handler(s *Server, r chi.Router, base string) http.Handler {
	r.Use(requestLogger)
	r.Route(base, func(r chi.Router) {
		if s.Config != nil {
			r.Get("/config", s.Config)
		}
		if s.LogLevel != nil {
			r.Method(http.MethodGet, "/log/level", s.LogLevel)
			r.Method(http.MethodPut, "/log/level", s.LogLevel)
		}
		r.Get("/devices", s.GetDevices)
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Get("/counters", s.GetCounters)
			r.Post("/ports/{port}/frames", s.SendFrame)
			r.Get("/queues/{queue}/completions", s.GetCompletions)
			r.Route("/domains/{domain}", func(r chi.Router) {
				r.Get("/", s.GetDomain)
				r.Post("/rules", s.AddRule)
				r.Get("/rules/{rule}", s.GetRule)
				r.Delete("/rules/{rule}", s.DeleteRule)
				r.Post("/sync", s.Sync)
			})
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := log.WithLabels(r.Context(), "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetDevices lists the devices with their resources and domains.
func (s *Server) GetDevices(w http.ResponseWriter, r *http.Request) {
	rep := make([]Device, 0, len(s.Rules.Setup.Devices))
	for _, dev := range s.Rules.Setup.Devices {
		d := Device{Name: dev.Name()}
		for _, q := range dev.Queues() {
			d.Queues = append(d.Queues, Queue{
				Name:  q.Name(),
				Depth: q.Depth(),
				Len:   q.Len(),
				Refs:  q.Refs(),
			})
		}
		for _, c := range dev.Counters() {
			d.Counters = append(d.Counters, c.Name())
		}
		for _, dom := range dev.Domains {
			d.Domains = append(d.Domains, DomainSummary{
				Name:       dom.Name(),
				Type:       dom.Type().String(),
				CommitMode: dom.CommitMode().String(),
				Generation: dom.Generation(),
				Rules:      dom.NumRules(),
			})
		}
		for _, p := range dev.Ports {
			d.Ports = append(d.Ports, p.Name())
		}
		rep = append(rep, d)
	}
	api.JSONResponse(w, http.StatusOK, rep)
}

// GetCounters queries all counters of the device.
func (s *Server) GetCounters(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.Rules.Setup.Device(chi.URLParam(r, "device"))
	if !ok {
		notFound(w, "device not found")
		return
	}
	rep := make([]Counter, 0)
	for _, c := range dev.Counters() {
		stats, err := c.Query(r.Context())
		if err != nil {
			api.ErrorResponse(w, api.Problem{
				Detail: api.StringRef(err.Error()),
				Status: http.StatusInternalServerError,
				Title:  "error querying counter",
				Type:   api.StringRef(api.InternalError),
			})
			return
		}
		rep = append(rep, Counter{
			Name:    c.Name(),
			Packets: stats.Packets,
			Bytes:   stats.Bytes,
			Refs:    c.Refs(),
		})
	}
	api.JSONResponse(w, http.StatusOK, rep)
}

// SendFrame sends the hex encoded frame of the request body out of the
// port. The response reports how the TX domain disposed of the frame. With
// async=true the frame is queued on the port's processors instead and the
// request completes with 202 Accepted.
func (s *Server) SendFrame(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.Rules.Setup.Device(chi.URLParam(r, "device"))
	if !ok {
		notFound(w, "device not found")
		return
	}
	port, ok := dev.Port(chi.URLParam(r, "port"))
	if !ok {
		notFound(w, "port not found")
		return
	}
	var req Frame
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed frame", err)
		return
	}
	raw, err := hex.DecodeString(req.Frame)
	if err != nil {
		badRequest(w, "malformed frame", err)
		return
	}
	pkt, err := packet.Parse(raw)
	if err != nil {
		badRequest(w, "malformed frame", err)
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.Ingress == nil {
			errorResponse(w, "error queueing frame", errIngressDisabled,
				http.StatusInternalServerError)
			return
		}
		if err := s.Ingress.Enqueue(port, pkt); err != nil {
			errorResponse(w, "error queueing frame", err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	res, err := port.Send(pkt)
	if err != nil {
		errorResponse(w, "error sending frame", err, http.StatusInternalServerError)
		return
	}
	rep := SendResult{
		Disposition: res.Disposition.String(),
		Hops:        res.Hops,
		Modified:    res.Modified,
	}
	if res.Err != nil {
		rep.Error = res.Err.Error()
	}
	api.JSONResponse(w, http.StatusOK, rep)
}

// GetCompletions drains up to max (default 64) pending completions of the
// queue without blocking.
func (s *Server) GetCompletions(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.Rules.Setup.Device(chi.URLParam(r, "device"))
	if !ok {
		notFound(w, "device not found")
		return
	}
	q, ok := dev.Queue(chi.URLParam(r, "queue"))
	if !ok {
		notFound(w, "queue not found")
		return
	}
	limit := defaultCompletions
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "invalid max", serrors.New("max must be a positive integer",
				"max", v))
			return
		}
		limit = n
	}
	rep := make([]Completion, 0)
	for len(rep) < limit {
		c, ok := q.TryPoll()
		if !ok {
			break
		}
		rep = append(rep, Completion{
			SMAC:   c.Packet.SMAC().String(),
			DMAC:   c.Packet.DMAC().String(),
			Length: c.Packet.Length,
			Tag:    c.Tag,
			Tagged: c.Tagged,
		})
	}
	api.JSONResponse(w, http.StatusOK, rep)
}

const defaultCompletions = 64

// GetDomain returns the tables of the domain with matchers and rules.
func (s *Server) GetDomain(w http.ResponseWriter, r *http.Request) {
	d, ok := s.domain(w, r)
	if !ok {
		return
	}
	rep := Domain{
		DomainSummary: DomainSummary{
			Name:       d.Name(),
			Type:       d.Type().String(),
			CommitMode: d.CommitMode().String(),
			Generation: d.Generation(),
			Rules:      d.NumRules(),
		},
		MaxHops:             d.MaxHops(),
		AllowDuplicateRules: d.AllowDuplicateRules(),
		Tables:              make([]Table, 0),
	}
	for _, t := range d.Tables() {
		tab := Table{
			ID:    t.ID.String(),
			Name:  d.TableName(t.ID),
			Level: t.Level,
			Root:  t.Root,
			Refs:  t.Refs,
		}
		for _, m := range t.Matchers {
			mat := Matcher{
				ID:       m.ID.String(),
				Name:     d.MatcherName(m.ID),
				Priority: m.Priority,
				Criteria: m.Criteria.String(),
				Mask:     m.Mask.String(),
			}
			for _, ri := range m.Rules {
				mat.Rules = append(mat.Rules, s.rule(ri))
			}
			tab.Matchers = append(tab.Matchers, mat)
		}
		rep.Tables = append(rep.Tables, tab)
	}
	api.JSONResponse(w, http.StatusOK, rep)
}

// GetRule returns a single rule.
func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	d, ok := s.domain(w, r)
	if !ok {
		return
	}
	id, err := d.ParseRuleID(chi.URLParam(r, "rule"))
	if err != nil {
		badRequest(w, "malformed rule id", err)
		return
	}
	ri, err := d.Rule(id)
	if err != nil {
		notFound(w, "rule not found")
		return
	}
	api.JSONResponse(w, http.StatusOK, s.rule(ri))
}

// AddRule creates a rule from the program rule in the request body.
func (s *Server) AddRule(w http.ResponseWriter, r *http.Request) {
	var spec program.Rule
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		badRequest(w, "malformed rule", err)
		return
	}
	device, domain := chi.URLParam(r, "device"), chi.URLParam(r, "domain")
	id, err := s.Rules.Add(r.Context(), device, domain, spec)
	if err != nil {
		errorResponse(w, "error adding rule", err, http.StatusBadRequest)
		return
	}
	log.FromCtx(r.Context()).Info("Rule added", "device", device, "domain", domain,
		"rule", id)
	api.JSONResponse(w, http.StatusCreated, RuleRef{ID: id.String()})
}

// DeleteRule destroys a rule.
func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	d, ok := s.domain(w, r)
	if !ok {
		return
	}
	id, err := d.ParseRuleID(chi.URLParam(r, "rule"))
	if err != nil {
		badRequest(w, "malformed rule id", err)
		return
	}
	device, domain := chi.URLParam(r, "device"), chi.URLParam(r, "domain")
	if err := s.Rules.Remove(r.Context(), device, domain, id); err != nil {
		errorResponse(w, "error deleting rule", err, http.StatusNotFound)
		return
	}
	log.FromCtx(r.Context()).Info("Rule deleted", "device", device, "domain", domain,
		"rule", id)
	w.WriteHeader(http.StatusNoContent)
}

// Sync publishes the staged mutations of the domain.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	d, ok := s.domain(w, r)
	if !ok {
		return
	}
	if err := d.Sync(r.Context()); err != nil {
		errorResponse(w, "error syncing domain", err, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) domain(w http.ResponseWriter, r *http.Request) (*program.Domain, bool) {
	d, err := s.Rules.Domain(chi.URLParam(r, "device"), chi.URLParam(r, "domain"))
	if err != nil {
		notFound(w, err.Error())
		return nil, false
	}
	return d, true
}

func (s *Server) rule(ri steering.RuleInfo) Rule {
	rule := Rule{
		ID:        ri.ID.String(),
		Value:     ri.Value.String(),
		Persisted: s.Rules.Persisted(ri.ID),
		Actions:   make([]string, 0, len(ri.Actions)),
	}
	for _, a := range ri.Actions {
		rule.Actions = append(rule.Actions, a.String())
	}
	return rule
}

func notFound(w http.ResponseWriter, title string) {
	api.ErrorResponse(w, api.Problem{
		Status: http.StatusNotFound,
		Title:  title,
		Type:   api.StringRef(api.NotFound),
	})
}

func badRequest(w http.ResponseWriter, title string, err error) {
	api.ErrorResponse(w, api.Problem{
		Detail: api.StringRef(err.Error()),
		Status: http.StatusBadRequest,
		Title:  title,
		Type:   api.StringRef(api.BadRequest),
	})
}

// errorResponse maps err to the status code of the problem. A dangling
// reference maps to the given status, since it means a missing rule when
// deleting but a bad reference in the body when adding.
func errorResponse(w http.ResponseWriter, title string, err error, dangling int) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ruleset.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, steering.ErrDanglingReference):
		status = dangling
	case errors.Is(err, steering.ErrDuplicateRule),
		errors.Is(err, steering.ErrAlreadyExists),
		errors.Is(err, steering.ErrInUse):
		status = http.StatusConflict
	case errors.Is(err, steering.ErrClosed),
		errors.Is(err, program.ErrBacklogFull),
		errors.Is(err, errIngressDisabled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, program.ErrInvalidRule),
		errors.Is(err, steering.ErrInvalidMask),
		errors.Is(err, steering.ErrLengthMismatch),
		errors.Is(err, steering.ErrUnsupportedAction),
		errors.Is(err, steering.ErrSteeringLoopDetected):
		status = http.StatusBadRequest
	}
	api.ErrorResponse(w, api.Problem{
		Detail: api.StringRef(err.Error()),
		Status: status,
		Title:  title,
		Type:   api.StringRef(problemTypes[status]),
	})
}

var problemTypes = map[int]string{
	http.StatusBadRequest:          api.BadRequest,
	http.StatusNotFound:            api.NotFound,
	http.StatusConflict:            api.Conflict,
	http.StatusServiceUnavailable:  api.Unavailable,
	http.StatusInternalServerError: api.InternalError,
}

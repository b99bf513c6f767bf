package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/auth"
	"github.com/example/adlib/internal/form"
	"github.com/example/adlib/internal/logging"
	"github.com/example/adlib/internal/pagestate"
	"github.com/example/adlib/internal/view"
)

//go:embed templates/*.html
var fs embed.FS

const untilLayout = "2006-01-02T15:04"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Server struct {
	Auth        *auth.Store
	Controllers *Registry
	Logger      *logrus.Logger
	// Location renders and parses wall-clock times; nil means time.Local.
	Location *time.Location
	Now      func() time.Time
}

type tmplData struct {
	Title string
	User  string
	Flash string

	State pagestate.State
	Page  view.Page

	Form         form.SubmissionRequest
	Until        string
	Roles        []string
	ProductAreas []string
	Interests    []string
	Durations    []int
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	if s.Logger != nil {
		r.Use(logging.Middleware(s.Logger))
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet, http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.Auth.RequireAuth)
	authed.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	authed.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	authed.HandleFunc("/exit", s.handleExit).Methods(http.MethodPost)
	authed.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	authed.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	authed.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	return r
}

func (s *Server) loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Server) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func (s *Server) log(r *http.Request) *logrus.Entry {
	e := logrus.NewEntry(s.logger())
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		e = e.WithField("user", sess.Username)
	}
	return e
}

// controller resolves the session's controller or writes an error response.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*pagestate.Controller, auth.Session, bool) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil, sess, false
	}
	c, err := s.Controllers.For(r.Context(), sess.Username)
	if err != nil {
		s.log(r).WithError(err).Error("load page state")
		http.Error(w, "could not load page state", http.StatusInternalServerError)
		return nil, sess, false
	}
	return c, sess, true
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	c, sess, ok := s.controller(w, r)
	if !ok {
		return
	}
	snap := c.Snapshot()
	if snap.State == pagestate.Form {
		req := s.prefilled(r, sess.Username)
		s.renderForm(w, http.StatusOK, sess.Username, req, "")
		return
	}
	s.render(w, http.StatusOK, "templates/state.html", tmplData{
		Title: "Ad-lib",
		User:  sess.Username,
		State: snap.State,
		Page:  view.For(snap, s.loc()),
	})
}

// prefilled starts from the defaults and applies saved preferences when the
// backend has them.
func (s *Server) prefilled(r *http.Request, username string) form.SubmissionRequest {
	now := s.now()
	req := form.Defaults(now)
	req.EndTimeAvailable = now.Add(time.Hour).UnixMilli()
	prefs, err := s.Controllers.Backend.ForUser(username).LoadPreferences(r.Context())
	if err != nil {
		s.log(r).WithError(err).Warn("load saved preferences")
		return req
	}
	return applyPreferences(req, prefs)
}

func applyPreferences(req form.SubmissionRequest, p adlib.Preferences) form.SubmissionRequest {
	if !p.Existing {
		return req
	}
	if p.Duration > 0 {
		req.Duration = p.Duration
	}
	req.Role = p.Role
	req.ProductArea = p.ProductArea
	if p.Interests != nil {
		req.Interests = p.Interests
	}
	if p.MatchPreference != "" {
		req.MatchPreference = p.MatchPreference
	}
	return req
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, sess, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, perr := s.parseSubmission(r)
	if perr != nil {
		s.renderForm(w, http.StatusUnprocessableEntity, sess.Username, req, perr.Error())
		return
	}

	err := c.Submit(r.Context(), req)
	var ve *form.ValidationError
	switch {
	case errors.As(err, &ve):
		s.renderForm(w, http.StatusUnprocessableEntity, sess.Username, req, ve.Error())
		return
	case errors.Is(err, pagestate.ErrInvalidTransition):
	case err != nil:
		s.log(r).WithError(err).Warn("submit failed")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// parseSubmission reads the HTML form. An unreadable date is reported as
// InvalidDate before any other rule runs.
func (s *Server) parseSubmission(r *http.Request) (form.SubmissionRequest, error) {
	req := form.Defaults(s.now())
	req.Duration, _ = strconv.Atoi(r.PostFormValue("duration"))
	req.Role = strings.TrimSpace(r.PostFormValue("role"))
	req.ProductArea = strings.TrimSpace(r.PostFormValue("productArea"))
	req.Interests = r.PostForm["interests"]
	req.MatchPreference = form.MatchPreference(r.PostFormValue("matchPreference"))
	req.SavePreference = r.PostFormValue("savePreference") != ""

	until, err := time.ParseInLocation(untilLayout, r.PostFormValue("until"), s.loc())
	if err != nil {
		return req, &form.ValidationError{Kind: form.InvalidDate, Field: "EndTimeAvailable"}
	}
	req.EndTimeAvailable = until.UnixMilli()
	return req, nil
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.Exit(r.Context()); err != nil && !errors.Is(err, pagestate.ErrInvalidTransition) {
		s.log(r).WithError(err).Warn("exit queue failed")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.Reset(r.Context()); err != nil && !errors.Is(err, pagestate.ErrInvalidTransition) {
		s.log(r).WithError(err).Warn("reset failed")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type stateResponse struct {
	pagestate.Snapshot
	Heading string   `json:"heading"`
	Body    []string `json:"body"`
}

func (s *Server) stateResponse(snap pagestate.Snapshot) stateResponse {
	p := view.For(snap, s.loc())
	return stateResponse{Snapshot: snap, Heading: p.Heading, Body: p.Body}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse(c.Snapshot()))
}

// handleWS pushes every transition of the participant's page state until the
// browser goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.controller(w, r)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log(r).WithError(err).Debug("websocket upgrade")
		return
	}
	defer conn.Close()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(s.stateResponse(snap)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "templates/login.html", tmplData{Title: "Login"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Auth.Authenticate(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.log(r).WithError(err).Error("authenticate")
		}
		s.render(w, http.StatusUnauthorized, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
		return
	}
	if err := s.Auth.SetSession(w, r, sess); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) renderForm(w http.ResponseWriter, status int, user string, req form.SubmissionRequest, flash string) {
	s.render(w, status, "templates/form.html", tmplData{
		Title:        "Ad-lib",
		User:         user,
		Flash:        flash,
		State:        pagestate.Form,
		Page:         view.For(pagestate.Snapshot{State: pagestate.Form}, s.loc()),
		Form:         req,
		Until:        req.EndTime().In(s.loc()).Format(untilLayout),
		Roles:        form.Roles,
		ProductAreas: form.ProductAreas,
		Interests:    form.Interests,
		Durations:    form.Durations,
	})
}

var funcs = template.FuncMap{
	"has": func(list []string, v string) bool {
		for _, s := range list {
			if s == v {
				return true
			}
		}
		return false
	},
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data tmplData) {
	t, err := template.New("base").Funcs(funcs).ParseFS(fs,
		"templates/base.html",
		name,
	)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		s.logger().WithError(err).WithField("template", name).Error("render")
	}
}

func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logrus.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

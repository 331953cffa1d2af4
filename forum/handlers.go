// forum/handlers.go
package forum

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pages = []string{
	"index.html",
	"signup.html",
	"login.html",
	"dashboard.html",
	"create_topic.html",
	"view_topic.html",
	"404.html",
}

// PageData is handed to every template.
type PageData struct {
	Title     string
	Viewer    *Viewer
	Flashes   []Flash
	CSRFToken string
	Topics    []Topic
	Topic     *Topic
	Replies   []Reply
	IsAuthor  bool
}

type Handlers struct {
	svc       *Service
	sessions  *scs.SessionManager
	templates map[string]*template.Template
	log       zerolog.Logger
}

func NewHandlers(svc *Service, sessions *scs.SessionManager, log zerolog.Logger) (*Handlers, error) {
	funcs := template.FuncMap{
		"date": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
	}
	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tpl, err := template.New(page).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tpl
	}
	return &Handlers{svc: svc, sessions: sessions, templates: templates, log: log}, nil
}

// Routes builds the full HTTP handler, sessions and logging included.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(h.log))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.LoadAndSave)
		r.Use(h.loadViewer)

		r.NotFound(h.notFound)

		r.Get("/", h.index)
		r.Get("/index", h.index)
		r.Get("/signup", h.signupForm)
		r.With(h.verifyCSRF).Post("/signup", h.signup)
		r.Get("/login", h.loginForm)
		r.With(h.verifyCSRF).Post("/login", h.login)
		r.Get("/logout", h.logout)
		r.Get("/topic/{id}", h.viewTopic)

		r.With(h.requireLogin("Please log in to view the dashboard.")).Get("/dashboard", h.dashboard)
		r.With(h.requireLogin("You must be logged in to create a topic.")).Get("/create_topic", h.createTopicForm)
		r.With(h.requireLogin("You must be logged in to create a topic."), h.verifyCSRF).Post("/create_topic", h.createTopic)
		r.With(h.requireLogin("You must be logged in to post a reply."), h.verifyCSRF).Post("/topic/{id}/reply", h.postReply)
		r.With(h.requireLogin("You must be logged in to delete a topic."), h.verifyCSRF).Post("/delete_topic/{id}", h.deleteTopic)
	})

	return r
}

// --- Main Routes ---

func (h *Handlers) index(w http.ResponseWriter, r *http.Request) {
	topics, err := h.svc.Topics(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "index.html", &PageData{Title: "Welcome to Nexus Hub", Topics: topics})
}

func (h *Handlers) signupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signup.html", &PageData{Title: "Sign Up"})
}

func (h *Handlers) signup(w http.ResponseWriter, r *http.Request) {
	form, err := ParseSignupForm(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	_, err = h.svc.Register(r.Context(), form)
	var verr *ValidationError
	switch {
	case err == nil:
		h.flash(r, FlashSuccess, "Account created successfully! You can now log in.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	case errors.Is(err, ErrUsernameTaken):
		h.flash(r, FlashDanger, "Username already exists. Please choose a different one.")
	case errors.Is(err, ErrEmailTaken):
		h.flash(r, FlashDanger, "That email is already registered. Please use a different one.")
	case errors.As(err, &verr):
		h.flash(r, FlashDanger, verr.Message)
	default:
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/signup", http.StatusSeeOther)
}

func (h *Handlers) loginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.html", &PageData{Title: "Log In"})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	form, err := ParseLoginForm(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	user, err := h.svc.Authenticate(r.Context(), form)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			hlog.FromRequest(r).Warn().Str("username", form.Username).Msg("failed login")
			h.flash(r, FlashDanger, "Invalid username or password.")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h.serverError(w, r, err)
		return
	}
	if err := h.startSession(r.Context(), user); err != nil {
		h.serverError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int64("user_id", user.ID).Msg("login")
	h.flash(r, FlashSuccess, "Login successful!")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.endSession(r.Context()); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.flash(r, FlashInfo, "You have been logged out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	v, _ := ViewerFrom(r.Context())
	topics, err := h.svc.TopicsByUser(r.Context(), v.UserID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "dashboard.html", &PageData{Title: "User Dashboard", Topics: topics})
}

// --- Topic Management Routes ---

func (h *Handlers) createTopicForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "create_topic.html", &PageData{Title: "Create New Topic"})
}

func (h *Handlers) createTopic(w http.ResponseWriter, r *http.Request) {
	v, _ := ViewerFrom(r.Context())
	form, err := ParseTopicForm(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	_, err = h.svc.CreateTopic(r.Context(), v.UserID, form)
	var verr *ValidationError
	switch {
	case err == nil:
		h.flash(r, FlashSuccess, "Topic created successfully!")
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	case errors.As(err, &verr):
		h.flash(r, FlashDanger, verr.Message)
		http.Redirect(w, r, "/create_topic", http.StatusSeeOther)
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handlers) viewTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(r)
	if !ok {
		h.notFound(w, r)
		return
	}
	topic, replies, err := h.svc.Topic(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(w, r)
			return
		}
		h.serverError(w, r, err)
		return
	}
	v, ok := ViewerFrom(r.Context())
	h.render(w, r, http.StatusOK, "view_topic.html", &PageData{
		Title:    topic.Title,
		Topic:    topic,
		Replies:  replies,
		IsAuthor: ok && v.UserID == topic.UserID,
	})
}

func (h *Handlers) postReply(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(r)
	if !ok {
		h.notFound(w, r)
		return
	}
	v, _ := ViewerFrom(r.Context())
	form, err := ParseReplyForm(r)
	if err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	_, err = h.svc.Reply(r.Context(), v.UserID, id, form)
	var verr *ValidationError
	switch {
	case err == nil:
		h.flash(r, FlashSuccess, "Reply posted successfully!")
	case errors.As(err, &verr):
		h.flash(r, FlashDanger, verr.Message)
	case errors.Is(err, ErrNotFound):
		h.notFound(w, r)
		return
	default:
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, topicPath(id), http.StatusSeeOther)
}

func (h *Handlers) deleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(r)
	if !ok {
		h.notFound(w, r)
		return
	}
	v, _ := ViewerFrom(r.Context())
	err := h.svc.DeleteTopic(r.Context(), v.UserID, id)
	switch {
	case err == nil:
		h.flash(r, FlashSuccess, "Topic deleted successfully!")
	case errors.Is(err, ErrForbidden):
		h.flash(r, FlashDanger, "You do not have permission to delete this topic.")
	case errors.Is(err, ErrNotFound):
		h.notFound(w, r)
		return
	default:
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// --- helpers ---

func topicID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func topicPath(id int64) string {
	return "/topic/" + strconv.FormatInt(id, 10)
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "404.html", &PageData{Title: "Not Found"})
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// render executes the page into a buffer first so a template failure never
// leaves a half-written response.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, page string, data *PageData) {
	tpl, ok := h.templates[page]
	if !ok {
		h.serverError(w, r, fmt.Errorf("template %s does not exist", page))
		return
	}
	if v, ok := ViewerFrom(r.Context()); ok {
		data.Viewer = &v
	}
	data.Flashes = h.popFlashes(r)
	data.CSRFToken = h.csrfToken(r)

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

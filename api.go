package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"golang.org/x/exp/slog"
)

const MaxImageSize = 50 << 20 // 50MB

type Pinger interface {
	Ping(ctx context.Context) error
}

type APIServer struct {
	creds       *Credentials
	uploader    *Uploader
	health      Pinger
	validate    *validator.Validate
	listenAddr  string
	maxUpload   int64
	corsOrigins []string
}

func NewAPIServer(creds *Credentials, uploader *Uploader, health Pinger, cfg *Config) *APIServer {
	return &APIServer{
		creds:       creds,
		uploader:    uploader,
		health:      health,
		validate:    validator.New(),
		listenAddr:  cfg.ListenAddr(),
		maxUpload:   cfg.MaxUploadSize,
		corsOrigins: cfg.CORSOrigins,
	}
}

type APIFunc func(w http.ResponseWriter, r *http.Request) error

func makeHandler(f APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}

		status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Writing an error to response", "error", err, "path", r.URL.Path)
		} else {
			slog.Debug("Writing API Status Error to response", "error", err, "status", status)
		}

		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}

		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(&StatusError{Err: publicError(err, status), Status: status})
	}
}

type StatusError struct {
	Err    error
	Status int
}

func (a *StatusError) Error() string {
	if a.Err != nil {
		return a.Err.Error()
	}

	return http.StatusText(a.Status)
}

func (a *StatusError) Unwrap() error {
	return a.Err
}

func (a *StatusError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Detail string `json:"detail"`
		Status int    `json:"status"`
	}{Detail: a.Error(), Status: a.Status})
}

// publicError hides internal causes of 5xx errors from clients.
func publicError(err error, status int) error {
	if status < http.StatusInternalServerError {
		var statusError *StatusError
		if errors.As(err, &statusError) {
			return statusError.Err
		}
		return err
	}

	switch {
	case errors.Is(err, ErrStorageUnavailable):
		return ErrStorageUnavailable
	case errors.Is(err, ErrRepository):
		return ErrRepository
	default:
		return errors.New(http.StatusText(status))
	}
}

func (s *APIServer) routes() http.Handler {
	r := http.NewServeMux()

	r.HandleFunc("/register", makeHandler(s.HandleRegister))
	r.HandleFunc("/token", makeHandler(s.HandleToken))
	r.HandleFunc("/users/me", makeHandler(
		s.authMiddleware(s.HandleGetMe),
	))
	r.HandleFunc("/upload-image", makeHandler(
		s.authMiddleware(s.HandleUploadImage),
	))
	r.HandleFunc("/images", makeHandler(
		s.authMiddleware(s.HandleGetAllImages),
	))
	r.HandleFunc("/images/", makeHandler(
		s.authMiddleware(s.HandleGetImage),
	))
	r.HandleFunc("/healthz", makeHandler(s.HandleHealth))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

func (s *APIServer) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := http.Server{
		Addr:              s.listenAddr,
		Handler:           s.routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting the server", "listen_addr", s.listenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down the server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

type HandleRegisterRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *APIServer) HandleRegister(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return ErrMethodNotAllowed
	}

	var req HandleRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &StatusError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err), Status: http.StatusBadRequest}
	}

	if err := s.validate.Struct(req); err != nil {
		return &StatusError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err), Status: http.StatusBadRequest}
	}

	user, err := s.creds.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return writeJSON(w, user)
}

// HandleToken follows the OAuth2 password flow: form fields username and password.
func (s *APIServer) HandleToken(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return ErrMethodNotAllowed
	}

	if err := r.ParseForm(); err != nil {
		return &StatusError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err), Status: http.StatusBadRequest}
	}

	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		return &StatusError{Err: fmt.Errorf("%w: username and password are required", ErrInvalidInput), Status: http.StatusBadRequest}
	}

	token, err := s.creds.Authenticate(r.Context(), username, password)
	if err != nil {
		return err
	}

	return writeJSON(w, token)
}

func (s *APIServer) HandleGetMe(user User, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrMethodNotAllowed
	}

	return writeJSON(w, user)
}

func (s *APIServer) HandleUploadImage(user User, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return ErrMethodNotAllowed
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &StatusError{Err: fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidInput, maxErr.Limit), Status: http.StatusRequestEntityTooLarge}
		}
		return &StatusError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err), Status: http.StatusBadRequest}
	}
	defer r.MultipartForm.RemoveAll()

	formFile, handler, err := r.FormFile("file")
	if err != nil {
		return &StatusError{Err: fmt.Errorf("%w: %v", ErrInvalidInput, err), Status: http.StatusBadRequest}
	}
	defer formFile.Close()

	slog.Debug("Received an image",
		"filename", handler.Filename,
		"size", handler.Size,
		"header", handler.Header,
	)

	img, err := s.uploader.Upload(r.Context(), user, Upload{
		Filename:    handler.Filename,
		ContentType: handler.Header.Get("Content-Type"),
		Body:        formFile,
	})
	if err != nil {
		return err
	}

	return writeJSON(w, img)
}

func (s *APIServer) HandleGetAllImages(user User, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrMethodNotAllowed
	}

	images, err := s.uploader.List(r.Context(), user)
	if err != nil {
		return err
	}

	return writeJSON(w, images)
}

func (s *APIServer) HandleGetImage(user User, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrMethodNotAllowed
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/images/"), 10, 64)
	if err != nil {
		return ErrNotFound
	}

	img, err := s.uploader.Get(r.Context(), user, id)
	if err != nil {
		return err
	}

	return writeJSON(w, img)
}

func (s *APIServer) HandleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := s.health.Ping(r.Context()); err != nil {
		return fmt.Errorf("%w: %w", ErrServiceNotAvailable, err)
	}

	return writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	return json.NewEncoder(w).Encode(v)
}

type APIAuthFunc func(user User, w http.ResponseWriter, r *http.Request) error

func (s *APIServer) authMiddleware(f APIAuthFunc) APIFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		auth := r.Header.Get("Authorization")

		header := strings.Fields(auth)
		if len(header) != 2 || !strings.EqualFold(header[0], "Bearer") {
			return ErrUnauthorized
		}

		user, err := s.creds.ResolveUser(r.Context(), header[1])
		if err != nil {
			return err
		}

		return f(user, w, r)
	}
}

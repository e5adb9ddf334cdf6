package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authclient/internal/rate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	PathLogin     = "/api/auth/login"
	PathRegister  = "/api/auth/register"
	PathMe        = "/api/auth/me"
	PathProtected = "/api/protected"
	PathAdmin     = "/api/admin"

	timestampLayout = "2006-01-02T15:04:05.000000"
)

// User is the backend's user record as it appears on the wire.
type User struct {
	ID                  int64   `json:"id"`
	Email               string  `json:"email"`
	Name                string  `json:"name"`
	FullName            string  `json:"full_name"`
	IsInstructor        bool    `json:"is_instructor"`
	Role                string  `json:"role"`
	JLPTLevel           *string `json:"jlpt_level"`
	Bio                 *string `json:"bio"`
	AvatarURL           *string `json:"avatar_url"`
	LearningPreferences *string `json:"learning_preferences"`
	StudyStreak         int     `json:"study_streak"`
	TotalStudyTime      int     `json:"total_study_time"`
	IsActive            bool    `json:"is_active"`
	IsVerified          bool    `json:"is_verified"`
	CreatedAt           string  `json:"created_at"`
	LastLogin           *string `json:"last_login"`
}

// Account describes a user to seed with AddUser.
type Account struct {
	Email    string
	Password string
	Name     string
	FullName string
	Role     string
	Level    string
	Inactive bool
}

type account struct {
	user User
	hash []byte
}

// Option customizes a Server.
type Option func(*Server)

// WithTokenTTL sets the lifetime of issued tokens (default one hour).
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithTokenField sets the JSON field carrying the token in login responses
// (default "access_token").
func WithTokenField(name string) Option {
	return func(s *Server) { s.tokenField = name }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLoginThrottle answers 429 once an identifier has failed max sign-ins within
// cooldown. Counters live in rdb.
func WithLoginThrottle(rdb redis.UniversalClient, max int, cooldown time.Duration) Option {
	return func(s *Server) {
		l, err := rate.New(rdb, rate.Config{Prefix: "authtest:", MaxLoginAttempts: max, LoginCooldownDuration: cooldown})
		if err != nil {
			panic(err)
		}
		s.throttle = l
	}
}

// Server is a running fake backend. It is safe for concurrent use.
type Server struct {
	srv        *httptest.Server
	secret     []byte
	tokenTTL   time.Duration
	tokenField string
	now        func() time.Time
	throttle   *rate.Limiter

	mu      sync.Mutex
	nextID  int64
	byEmail map[string]*account
	revoked map[string]bool
	forced  map[string]int
	holds   map[string]*hold
	hits    map[string]int
}

// NewServer starts a fake backend. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:     []byte(uuid.NewString()),
		tokenTTL:   time.Hour,
		tokenField: "access_token",
		now:        time.Now,
		byEmail:    make(map[string]*account),
		revoked:    make(map[string]bool),
		forced:     make(map[string]int),
		holds:      make(map[string]*hold),
		hits:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogin, s.handleLogin)
	mux.HandleFunc("POST "+PathRegister, s.handleRegister)
	mux.HandleFunc("GET "+PathMe, s.handleMe)
	mux.HandleFunc("PUT "+PathMe, s.handleUpdateMe)
	mux.HandleFunc("GET "+PathProtected, s.handleProtected)
	mux.HandleFunc("GET "+PathAdmin, s.handleAdmin)

	s.srv = httptest.NewServer(s.instrument(mux))
	return s
}

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) Close() { s.srv.Close() }

// AddUser seeds an account and returns its record.
func (s *Server) AddUser(a Account) User {
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(a, hash)
}

func (s *Server) addLocked(a Account, hash []byte) User {
	s.nextID++
	role := strings.ToLower(a.Role)
	if role == "" {
		role = "student"
	}
	name := a.Name
	if name == "" {
		name, _, _ = strings.Cut(a.Email, "@")
	}
	u := User{
		ID:           s.nextID,
		Email:        a.Email,
		Name:         name,
		FullName:     a.FullName,
		IsInstructor: role == "instructor",
		Role:         role,
		IsActive:     !a.Inactive,
		CreatedAt:    s.now().UTC().Format(timestampLayout),
	}
	if a.Level != "" {
		lvl := a.Level
		u.JLPTLevel = &lvl
	}
	s.byEmail[strings.ToLower(a.Email)] = &account{user: u, hash: hash}
	return u
}

// IssueToken signs a token for email that expires after ttl. A negative ttl yields an
// already expired token.
func (s *Server) IssueToken(email string, ttl time.Duration) string {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strings.ToLower(email),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

// Revoke makes the backend reject token with 401 from now on.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
}

// SetStatus makes every request to path answer with code and a detail payload. A zero
// code restores normal handling.
func (s *Server) SetStatus(path string, code int) {
	s.mu.Lock()
	if code == 0 {
		delete(s.forced, path)
	} else {
		s.forced[path] = code
	}
	s.mu.Unlock()
}

type hold struct {
	gate    chan struct{}
	arrived chan struct{}
	once    sync.Once
}

// Hold makes requests to path wait until release is called. arrived is closed when the
// first held request reaches the server.
func (s *Server) Hold(path string) (arrived <-chan struct{}, release func()) {
	h := &hold{gate: make(chan struct{}), arrived: make(chan struct{})}
	s.mu.Lock()
	s.holds[path] = h
	s.mu.Unlock()

	var once sync.Once
	return h.arrived, func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[path] == h {
				delete(s.holds, path)
			}
			s.mu.Unlock()
			close(h.gate)
		})
	}
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Lookup returns the stored record for email.
func (s *Server) Lookup(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, false
	}
	return acc.user, true
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		h := s.holds[r.URL.Path]
		code := s.forced[r.URL.Path]
		s.mu.Unlock()

		if h != nil {
			h.once.Do(func() { close(h.arrived) })
			select {
			case <-h.gate:
			case <-r.Context().Done():
				return
			}
		}
		if code != 0 {
			writeDetail(w, code, http.StatusText(code))
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*
====================================
HANDLERS
====================================
*/

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	identifier := strings.ToLower(strings.TrimSpace(r.PostForm.Get("username")))
	password := r.PostForm.Get("password")
	if identifier == "" || password == "" {
		writeValidation(w, "username", "field required")
		return
	}
	if s.throttle != nil {
		if err := s.throttle.CheckLogin(r.Context(), identifier); err != nil {
			writeThrottled(w, err)
			return
		}
	}

	s.mu.Lock()
	acc := s.byEmail[identifier]
	if acc == nil {
		for _, a := range s.byEmail {
			if strings.EqualFold(a.user.Name, identifier) {
				acc = a
				break
			}
		}
	}
	var hash []byte
	if acc != nil {
		hash = acc.hash
	}
	s.mu.Unlock()

	if acc == nil || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		if s.throttle != nil {
			if err := s.throttle.IncrementLogin(r.Context(), identifier); err != nil && !errors.Is(err, rate.ErrRateLimited) {
				writeThrottled(w, err)
				return
			}
		}
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if s.throttle != nil {
		_ = s.throttle.ResetLogin(r.Context(), identifier)
	}

	s.mu.Lock()
	if !acc.user.IsActive {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Inactive user")
		return
	}
	ts := s.now().UTC().Format(timestampLayout)
	acc.user.LastLogin = &ts
	user := acc.user
	s.mu.Unlock()

	token := s.IssueToken(user.Email, s.tokenTTL)
	writeJSON(w, http.StatusOK, map[string]any{
		s.tokenField: token,
		"token_type": "bearer",
		"user":       user,
	})
}

type registerRequest struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	Name         string  `json:"name"`
	Username     string  `json:"username"`
	FullName     string  `json:"full_name"`
	IsInstructor bool    `json:"is_instructor"`
	Role         string  `json:"role"`
	JLPTLevel    *string `json:"jlpt_level"`
	Bio          *string `json:"bio"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		writeValidation(w, "email", "value is not a valid email address")
		return
	case len(req.Password) < 6:
		writeValidation(w, "password", "ensure this value has at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "hash failure")
		return
	}

	role := req.Role
	if role == "" && req.IsInstructor {
		role = "instructor"
	}
	name := req.Name
	if name == "" {
		name = req.Username
	}

	s.mu.Lock()
	if _, exists := s.byEmail[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	a := Account{Email: req.Email, Name: name, FullName: req.FullName, Role: role}
	if req.JLPTLevel != nil {
		a.Level = *req.JLPTLevel
	}
	u := s.addLocked(a, hash)
	if req.Bio != nil {
		s.byEmail[strings.ToLower(req.Email)].user.Bio = req.Bio
		u.Bio = req.Bio
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	u := acc.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

type updateRequest struct {
	FullName            *string `json:"full_name"`
	Bio                 *string `json:"bio"`
	JLPTLevel           *string `json:"jlpt_level"`
	LearningPreferences *string `json:"learning_preferences"`
	AvatarURL           *string `json:"avatar_url"`
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}
	if req.JLPTLevel != nil {
		switch *req.JLPTLevel {
		case "N5", "N4", "N3", "N2", "N1":
		default:
			writeValidation(w, "jlpt_level", "invalid JLPT level")
			return
		}
	}

	s.mu.Lock()
	if req.FullName != nil {
		acc.user.FullName = *req.FullName
	}
	if req.Bio != nil {
		acc.user.Bio = req.Bio
	}
	if req.JLPTLevel != nil {
		acc.user.JLPTLevel = req.JLPTLevel
	}
	if req.LearningPreferences != nil {
		acc.user.LearningPreferences = req.LearningPreferences
	}
	if req.AvatarURL != nil {
		acc.user.AvatarURL = req.AvatarURL
	}
	u := acc.user
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	role := acc.user.Role
	s.mu.Unlock()
	if role != "admin" {
		writeDetail(w, http.StatusForbidden, "Not enough permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

var errRejected = errors.New("rejected")

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*account, bool) {
	acc, err := s.resolve(r.Header.Get("Authorization"))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return nil, false
	}
	return acc, true
}

func (s *Server) resolve(header string) (*account, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errRejected
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[raw] {
		return nil, errRejected
	}
	acc := s.byEmail[claims.Subject]
	if acc == nil || !acc.user.IsActive {
		return nil, errRejected
	}
	return acc, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{
			"loc":  []string{"body", field},
			"msg":  msg,
			"type": "value_error",
		}},
	})
}

func writeThrottled(w http.ResponseWriter, err error) {
	if errors.Is(err, rate.ErrRateLimited) {
		writeDetail(w, http.StatusTooManyRequests, "Too many login attempts. Try again later.")
		return
	}
	writeDetail(w, http.StatusServiceUnavailable, "Login temporarily unavailable")
}

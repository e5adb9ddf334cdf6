package authclient

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Role is the account role reported by the backend.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole accepts a role name in any case. "learner" and "administrator" are accepted
// as aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student", "learner":
		return RoleStudent, nil
	case "instructor", "teacher":
		return RoleInstructor, nil
	case "admin", "administrator":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrRoleInvalid, s)
}

// Tier is a JLPT proficiency level. N5 is the entry level and N1 the highest.
type Tier string

const (
	TierN5 Tier = "N5"
	TierN4 Tier = "N4"
	TierN3 Tier = "N3"
	TierN2 Tier = "N2"
	TierN1 Tier = "N1"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierN5, TierN4, TierN3, TierN2, TierN1}

// Rank orders tiers: N5 is 1 and N1 is 5. Unknown tiers rank 0.
func (t Tier) Rank() int {
	switch t {
	case TierN5:
		return 1
	case TierN4:
		return 2
	case TierN3:
		return 3
	case TierN2:
		return 4
	case TierN1:
		return 5
	}
	return 0
}

func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Below reports whether t is a lower level than other.
func (t Tier) Below(other Tier) bool {
	return t.Rank() < other.Rank()
}

// ParseTier accepts "n3", "N3" or "3".
func ParseTier(s string) (Tier, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if len(v) == 1 {
		v = "N" + v
	}
	t := Tier(v)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrTierInvalid, s)
	}
	return t, nil
}

// User is the profile record returned by the backend.
type User struct {
	ID                  int64      `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username,omitempty"`
	FullName            string     `json:"full_name,omitempty"`
	Role                Role       `json:"role,omitempty"`
	Level               Tier       `json:"jlpt_level,omitempty"`
	Bio                 string     `json:"bio,omitempty"`
	AvatarURL           string     `json:"avatar_url,omitempty"`
	LearningPreferences string     `json:"learning_preferences,omitempty"`
	StudyStreak         int        `json:"study_streak"`
	TotalStudyTime      int        `json:"total_study_time"`
	IsActive            bool       `json:"is_active"`
	IsVerified          bool       `json:"is_verified"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

type userWire struct {
	ID                  int64           `json:"id"`
	Email               string          `json:"email"`
	Username            string          `json:"username"`
	Name                string          `json:"name"`
	FullName            string          `json:"full_name"`
	Role                string          `json:"role"`
	IsInstructor        *bool           `json:"is_instructor"`
	Level               string          `json:"jlpt_level"`
	Bio                 *string         `json:"bio"`
	AvatarURL           *string         `json:"avatar_url"`
	LearningPreferences json.RawMessage `json:"learning_preferences"`
	StudyStreak         int             `json:"study_streak"`
	TotalStudyTime      int             `json:"total_study_time"`
	IsActive            bool            `json:"is_active"`
	IsVerified          bool            `json:"is_verified"`
	CreatedAt           *string         `json:"created_at"`
	LastLogin           *string         `json:"last_login"`
}

// UnmarshalJSON accepts the current and the legacy backend schemas: "name" for the
// username, "is_instructor" in place of "role", and timestamps with or without a zone.
func (u *User) UnmarshalJSON(data []byte) error {
	var w userWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := User{
		ID:             w.ID,
		Email:          w.Email,
		Username:       w.Username,
		FullName:       w.FullName,
		Role:           Role(strings.ToLower(w.Role)),
		StudyStreak:    w.StudyStreak,
		TotalStudyTime: w.TotalStudyTime,
		IsActive:       w.IsActive,
		IsVerified:     w.IsVerified,
	}
	if out.Username == "" {
		out.Username = w.Name
	}
	if out.Role == "" && w.IsInstructor != nil {
		out.Role = RoleStudent
		if *w.IsInstructor {
			out.Role = RoleInstructor
		}
	}
	if w.Level != "" {
		if t, err := ParseTier(w.Level); err == nil {
			out.Level = t
		} else {
			out.Level = Tier(w.Level)
		}
	}
	if w.Bio != nil {
		out.Bio = *w.Bio
	}
	if w.AvatarURL != nil {
		out.AvatarURL = *w.AvatarURL
	}
	out.LearningPreferences = rawText(w.LearningPreferences)

	if w.CreatedAt != nil && *w.CreatedAt != "" {
		ts, err := parseTimestamp(*w.CreatedAt)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		out.CreatedAt = ts
	}
	if w.LastLogin != nil && *w.LastLogin != "" {
		ts, err := parseTimestamp(*w.LastLogin)
		if err != nil {
			return fmt.Errorf("last_login: %w", err)
		}
		out.LastLogin = &ts
	}

	*u = out
	return nil
}

// DisplayName returns the full name, falling back to the username and then the email.
func (u User) DisplayName() string {
	switch {
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	}
	return u.Email
}

func (u User) clone() User {
	out := u
	if u.LastLogin != nil {
		ts := *u.LastLogin
		out.LastLogin = &ts
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// rawText renders a JSON value as text: strings are unquoted, null is empty, anything
// else keeps its JSON encoding.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// RegisterInput is a new-account request.
type RegisterInput struct {
	Email    string
	Password string
	Username string
	FullName string
	Role     Role
	Level    Tier
	Bio      string
}

// Validate checks the request locally before anything is sent.
func (in RegisterInput) Validate() error {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return fmt.Errorf("%w: email required", ErrRegistrationInvalid)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: email %q is not a valid address", ErrRegistrationInvalid, in.Email)
	}
	if in.Password == "" {
		return fmt.Errorf("%w: password required", ErrRegistrationInvalid)
	}
	if in.Role != "" && !in.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrRoleInvalid, in.Role)
	}
	if in.Level != "" && !in.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrTierInvalid, in.Level)
	}
	return nil
}

// MarshalJSON writes the backend registration payload. The username is sent under both
// its current and legacy names, and the role is mirrored into is_instructor.
func (in RegisterInput) MarshalJSON() ([]byte, error) {
	role := in.Role
	if role == "" {
		role = RoleStudent
	}
	username := in.Username
	if username == "" {
		username, _, _ = strings.Cut(strings.TrimSpace(in.Email), "@")
	}
	fullName := in.FullName
	if fullName == "" {
		fullName = username
	}
	return json.Marshal(struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		Username     string `json:"username"`
		Name         string `json:"name"`
		FullName     string `json:"full_name"`
		Role         Role   `json:"role"`
		IsInstructor bool   `json:"is_instructor"`
		Level        Tier   `json:"jlpt_level,omitempty"`
		Bio          string `json:"bio,omitempty"`
	}{
		Email:        strings.TrimSpace(in.Email),
		Password:     in.Password,
		Username:     username,
		Name:         username,
		FullName:     fullName,
		Role:         role,
		IsInstructor: role == RoleInstructor,
		Level:        in.Level,
		Bio:          in.Bio,
	})
}

// ProfileUpdate is a partial profile update. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName            *string `json:"full_name,omitempty"`
	Bio                 *string `json:"bio,omitempty"`
	Level               *Tier   `json:"jlpt_level,omitempty"`
	LearningPreferences *string `json:"learning_preferences,omitempty"`
	AvatarURL           *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FullName == nil && p.Bio == nil && p.Level == nil &&
		p.LearningPreferences == nil && p.AvatarURL == nil
}

func (p ProfileUpdate) validate() error {
	if p.Level != nil && !p.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrTierInvalid, *p.Level)
	}
	return nil
}

// State is a copy of the session at one instant.
type State struct {
	User       *User
	Credential string
	Pending    bool
}

// Authenticated reports whether both the user and the credential are present.
func (s State) Authenticated() bool {
	return s.User != nil && s.Credential != ""
}

// loginResponse is the backend token payload. Some deployments send "token" instead of
// "access_token".
type loginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user"`
}

func (r loginResponse) credential() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// sessionRecord is the persisted {user, credential} pair.
type sessionRecord struct {
	User       User      `json:"user"`
	Credential string    `json:"credential"`
	SavedAt    time.Time `json:"saved_at"`
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/MrEthical07/authclient/authtest"
	"github.com/MrEthical07/authclient/credential"
	"github.com/alicebob/miniredis/v2"
)

type cli struct {
	t       *testing.T
	backend *authtest.Server
	base    []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv(envPrefix+"_ENV_FILE", "")
	backend := authtest.NewServer()
	t.Cleanup(backend.Close)
	backend.AddUser(authtest.Account{Email: "aiko@b.com", Password: "secret1", Name: "aiko", Level: "N4"})
	return &cli{
		t:       t,
		backend: backend,
		base:    []string{"-base-url", backend.URL(), "-state-dir", t.TempDir(), "-log-level", "error"},
	}
}

func (c *cli) run(args ...string) (string, string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append(append([]string{}, c.base...), args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestLoginPersistsAcrossInvocations(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("login", "-email", "aiko@b.com", "-password", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, "aiko@b.com") {
		t.Fatalf("expected user in output, got %q", out)
	}

	out, _, err = c.run("whoami")
	if err != nil {
		t.Fatalf("whoami failed: %v", err)
	}
	if !strings.Contains(out, "N4") {
		t.Fatalf("expected restored user, got %q", out)
	}

	if _, _, err := c.run("logout"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, _, err := c.run("whoami"); err != errNotSignedIn {
		t.Fatalf("expected errNotSignedIn after logout, got %v", err)
	}
}

func TestLoginFailureShowsBackendDetail(t *testing.T) {
	c := newCLI(t)
	_, _, err := c.run("login", "-email", "aiko@b.com", "-password", "nope")
	if err == nil || err.Error() != "Incorrect email or password" {
		t.Fatalf("expected backend detail, got %v", err)
	}
}

func TestPasswordFromEnvironment(t *testing.T) {
	c := newCLI(t)
	t.Setenv("AUTHCTL_PASSWORD", "secret1")
	if _, _, err := c.run("login", "-email", "aiko@b.com"); err != nil {
		t.Fatalf("login with env password failed: %v", err)
	}
}

func TestRegisterThenUpdate(t *testing.T) {
	c := newCLI(t)
	if _, _, err := c.run("register", "-email", "kenji@b.com", "-password", "pw12345", "-level", "n5"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	out, _, err := c.run("update", "-bio", "hello", "-level", "N3")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "N3") {
		t.Fatalf("expected updated profile, got %q", out)
	}
}

func TestUpdateRequiresSession(t *testing.T) {
	c := newCLI(t)
	if _, _, err := c.run("update", "-bio", "x"); err != errNotSignedIn {
		t.Fatalf("expected errNotSignedIn, got %v", err)
	}
}

func TestRevokedCredentialIsDiscardedOnStart(t *testing.T) {
	c := newCLI(t)
	if _, _, err := c.run("login", "-email", "aiko@b.com", "-password", "secret1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	repo, err := credential.NewFile(c.base[3], credential.DefaultNamespace)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	token, err := repo.Get(context.Background())
	if err != nil {
		t.Fatalf("expected persisted credential: %v", err)
	}
	c.backend.Revoke(token)

	if _, _, err := c.run("whoami"); err != errNotSignedIn {
		t.Fatalf("expected errNotSignedIn for revoked credential, got %v", err)
	}
}

func TestYAMLConfigFile(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "authctl.yaml")
	yml := "base-url: " + c.backend.URL() + "\nstate-dir: " + dir + "\nlog-level: error\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	c.base = []string{"-config", path}
	if _, _, err := c.run("login", "-email", "aiko@b.com", "-password", "secret1"); err != nil {
		t.Fatalf("login with yaml config failed: %v", err)
	}
	if out, _, err := c.run("whoami"); err != nil || !strings.Contains(out, "aiko") {
		t.Fatalf("whoami with yaml config failed: %q %v", out, err)
	}
}

func TestDotEnvFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), "authctl.env")
	if err := os.WriteFile(env, []byte("AUTHCTL_DOTENV_PASSWORD=secret1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envPrefix+"_ENV_FILE", env)
	if err := loadDotEnv(); err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("AUTHCTL_DOTENV_PASSWORD") })

	if got := os.Getenv("AUTHCTL_DOTENV_PASSWORD"); got != "secret1" {
		t.Fatalf("expected value from env file, got %q", got)
	}
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newCLI(t)
	c.base = append(c.base, "-redis-addr", mr.Addr(), "-namespace", "learnapp")

	if _, _, err := c.run("login", "-email", "aiko@b.com", "-password", "secret1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	keys := mr.Keys()
	sort.Strings(keys)
	if len(keys) == 0 || !strings.HasPrefix(keys[0], "learnapp") {
		t.Fatalf("expected namespaced credential key, got %v", keys)
	}
	if out, _, err := c.run("whoami"); err != nil || !strings.Contains(out, "aiko") {
		t.Fatalf("whoami via redis failed: %q %v", out, err)
	}
}

func TestYAMLParser(t *testing.T) {
	got := map[string][]string{}
	set := func(name, value string) error {
		got[name] = append(got[name], value)
		return nil
	}
	in := "timeout: 5s\npersist-user: true\nretries: 3\nextra: [a, b]\nempty:\n"
	if err := yamlParser(strings.NewReader(in), set); err != nil {
		t.Fatalf("yamlParser failed: %v", err)
	}
	if got["timeout"][0] != "5s" || got["persist-user"][0] != "true" || got["retries"][0] != "3" {
		t.Fatalf("unexpected scalars %v", got)
	}
	if len(got["extra"]) != 2 || len(got["empty"]) != 0 {
		t.Fatalf("unexpected list handling %v", got)
	}
	if err := yamlParser(strings.NewReader("nested:\n  a: 1\n"), set); err == nil {
		t.Fatal("expected nested map to be rejected")
	}
	if err := yamlParser(strings.NewReader(""), set); err != nil {
		t.Fatalf("empty file must parse, got %v", err)
	}
}

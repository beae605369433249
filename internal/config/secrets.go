package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Secret keys resolved at stage-execution time. Tokens never live in the
// YAML config and are never written outside the build scratch space.
const (
	SecretGitToken       = "GIT_TOKEN"
	SecretAgentToken     = "HEALTHDEPLOY_AGENT_TOKEN"
	SecretStoreAccessKey = "STORE_ACCESS_KEY"
	SecretStoreSecretKey = "STORE_SECRET_KEY"
)

// LoadSecretsEnv reads $XDG_CONFIG_HOME/healthdeploy/secrets.env (or
// ~/.config/healthdeploy/secrets.env) and returns key/value pairs. Lines
// starting with # are ignored. Format: KEY=VALUE
func LoadSecretsEnv(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(filepath.Dir(DefaultPath()), "secrets.env")
	}
	f, err := os.Open(path)
	if err != nil {
		return map[string]string{}, nil // not fatal if missing
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out[k] = v
		}
	}
	return out, nil
}

// Secret resolves a named secret, preferring the process environment over
// the secrets.env file.
func Secret(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	secrets, _ := LoadSecretsEnv("")
	return secrets[name]
}

// MergeSecrets overlays store credentials from secrets.env/environment onto
// the loaded config so tokens stay out of YAML.
func (c *Config) MergeSecrets() {
	if v := Secret(SecretStoreAccessKey); v != "" {
		c.Store.AccessKey = v
	}
	if v := Secret(SecretStoreSecretKey); v != "" {
		c.Store.SecretKey = v
	}
}

// Package auth supplies bearer tokens for the load target. Tokens come
// either from configuration directly or from ~/.trussrc profiles.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Provider supplies the bearer token for outbound requests.
type Provider interface {
	Token() string
}

// Static is a Provider wrapping a fixed token. An empty Static means
// unauthenticated requests.
type Static string

// Token implements Provider.
func (s Static) Token() string { return string(s) }

// Profile is one named remote in a trussrc file.
type Profile struct {
	Name      string
	RemoteURL string
	APIKey    string
}

// defaultRemoteURL is assumed when a profile omits remote_url.
const defaultRemoteURL = "https://app.baseten.co"

// DefaultTrussrcPath returns ~/.trussrc.
func DefaultTrussrcPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trussrc"
	}
	return filepath.Join(home, ".trussrc")
}

// Trussrc holds the parsed profiles of one trussrc file.
type Trussrc struct {
	profiles map[string]Profile
	order    []string
}

// LoadTrussrc parses an INI-format trussrc file. A missing file is not an
// error; it yields an empty Trussrc (auth discovery is optional).
func LoadTrussrc(path string) (*Trussrc, error) {
	t := &Trussrc{profiles: make(map[string]Profile)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return t, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trussrc %s: %w", path, err)
	}

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		remoteURL := section.Key("remote_url").String()
		if remoteURL == "" {
			remoteURL = defaultRemoteURL
		}
		t.profiles[name] = Profile{
			Name:      name,
			RemoteURL: remoteURL,
			APIKey:    section.Key("api_key").String(),
		}
		t.order = append(t.order, name)
	}
	return t, nil
}

// Profiles returns the profile names in file order.
func (t *Trussrc) Profiles() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Profile looks up one profile by name.
func (t *Trussrc) Profile(name string) (Profile, bool) {
	p, ok := t.profiles[name]
	return p, ok
}

// ProviderFor returns a token Provider for the named profile.
func (t *Trussrc) ProviderFor(name string) (Provider, error) {
	p, ok := t.profiles[name]
	if !ok {
		return nil, fmt.Errorf("trussrc profile %q not found", name)
	}
	return Static(p.APIKey), nil
}

// InferenceBaseURL maps a profile's app URL to its inference base URL.
// Baseten app hosts become the matching inference host; anything else is
// returned verbatim. The adapter appends the API path.
func (p Profile) InferenceBaseURL() string {
	url := strings.TrimSuffix(p.RemoteURL, "/")
	if !strings.Contains(url, "baseten.co") {
		return url
	}
	switch {
	case strings.Contains(url, "app.staging.baseten.co"):
		return "https://inference.staging.baseten.co"
	case strings.Contains(url, "app.baseten.co"):
		return "https://inference.baseten.co"
	default:
		return strings.Replace(url, "app.", "inference.", 1)
	}
}

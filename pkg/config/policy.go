package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Policy is the exemption file: paths the CSRF guard and the rate
// limiter leave alone. Prefix entries end with "/" and match any path
// below them.
type Policy struct {
	CSRFExempt      []string `yaml:"csrf_exempt"`
	RateLimitExempt []string `yaml:"rate_limit_exempt"`
}

func (p *Policy) matches(list []string, path string) bool {
	for _, entry := range list {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(path, entry) {
				return true
			}
		} else if path == entry {
			return true
		}
	}
	return false
}

// PolicyStore serves the current policy and reloads it when the file
// changes. The zero policy exempts nothing, which is also the behavior
// when no file is configured.
type PolicyStore struct {
	path   string
	logger *logrus.Logger

	mu     sync.RWMutex
	policy Policy

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPolicyStore loads the file at path and begins watching it. An empty
// path yields a store that exempts nothing and watches nothing.
func NewPolicyStore(path string, logger *logrus.Logger) (*PolicyStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &PolicyStore{path: path, logger: logger, done: make(chan struct{})}
	if path == "" {
		return s, nil
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating policy watcher: %w", err)
	}
	// watch the directory: editors replace the file rather than write it
	// in place, which drops the watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching policy directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *PolicyStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return nil
}

func (s *PolicyStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if err := s.reload(); err != nil {
				// keep serving the last good policy
				s.logger.WithError(err).Warn("policy reload failed")
				continue
			}
			s.logger.WithField("path", s.path).Info("policy reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("policy watcher error")
		case <-s.done:
			return
		}
	}
}

// Close stops the watcher.
func (s *PolicyStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// IsCSRFExempt reports whether the path skips the CSRF guard.
func (s *PolicyStore) IsCSRFExempt(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.matches(s.policy.CSRFExempt, path)
}

// IsRateLimitExempt reports whether the path skips the rate limiter.
func (s *PolicyStore) IsRateLimitExempt(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.matches(s.policy.RateLimitExempt, path)
}

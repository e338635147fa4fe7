package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionRegistry keeps one LocalClient per user and model. Sessions that stay
// idle longer than the configured timeout are dropped with their history.
type SessionRegistry struct {
	server *OllamaServer
	cache  *cache.Cache
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSessionRegistry creates a new SessionRegistry
func NewSessionRegistry(server *OllamaServer, idleTimeout time.Duration, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SessionRegistry{
		server: server,
		cache:  cache.New(idleTimeout, idleTimeout/2),
		logger: logger,
	}
	r.cache.OnEvicted(func(key string, _ interface{}) {
		r.logger.Debug("Local session evicted", "session", key)
	})
	return r
}

func sessionKey(conversationKey, model string) string {
	return conversationKey + ":" + model
}

// Resolve implements ProviderResolver. Each lookup refreshes the idle timer.
func (r *SessionRegistry) Resolve(conversationKey, model string) ProviderClient {
	if model == "" {
		model = r.server.DefaultModel()
	}
	key := sessionKey(conversationKey, model)

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(key); ok {
		client := v.(*LocalClient)
		r.cache.SetDefault(key, client)
		return client
	}

	client := r.server.NewClient(model)
	r.cache.SetDefault(key, client)
	r.logger.Info("Local session started",
		"conversation_key", conversationKey,
		"model", model)
	return client
}

// Reset drops every session belonging to conversationKey and returns how many were removed
func (r *SessionRegistry) Reset(conversationKey string) int {
	prefix := conversationKey + ":"

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	return r.cache.ItemCount()
}

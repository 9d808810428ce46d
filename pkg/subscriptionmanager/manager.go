// Package subscriptionmanager routes subscription requests of one upstream
// connection to a shared subscription client per remote service.
package subscriptionmanager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient"
)

var (
	ErrMissingContext     = errors.New("subscription context must not be nil")
	ErrMissingOperationID = errors.New("subscription context has no operation id")
)

// ClientCache holds at most one client per URL. Its clients live as long as
// the context the cache was created with.
type ClientCache struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	clients map[string]*subscriptionclient.Client
}

func NewClientCache(ctx context.Context) *ClientCache {
	ctx, cancel := context.WithCancel(ctx)
	return &ClientCache{
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*subscriptionclient.Client),
	}
}

// Get returns the client for url, creating it with cfg on first use.
func (c *ClientCache) Get(url string, cfg subscriptionclient.Config) *subscriptionclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[url]; ok {
		return client
	}
	client := subscriptionclient.New(c.ctx, url, cfg)
	c.clients[url] = client
	return client
}

func (c *ClientCache) lookup(url string) (*subscriptionclient.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[url]
	return client, ok
}

func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Close shuts down every client and waits for them to finish.
func (c *ClientCache) Close() {
	c.cancel()

	c.mu.Lock()
	clients := make([]*subscriptionclient.Client, 0, len(c.clients))
	for _, client := range c.clients {
		clients = append(clients, client)
	}
	c.mu.Unlock()

	for _, client := range clients {
		<-client.Done()
	}
}

// SubscriptionContext is supplied per subscription by the caller.
type SubscriptionContext struct {
	// OperationID is assigned externally and unique within Clients.
	OperationID string
	Clients     *ClientCache
}

// Manager creates subscriptions against one remote service.
type Manager struct {
	url string
	cfg subscriptionclient.Config
	log abstractlogger.Logger
}

func New(url string, cfg subscriptionclient.Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = abstractlogger.NoopLogger
	}
	return &Manager{url: url, cfg: cfg, log: log}
}

func (m *Manager) URL() string {
	return m.url
}

// CreateSubscription delegates to the client cached for this service in
// subCtx and returns its result unchanged.
func (m *Manager) CreateSubscription(ctx context.Context, query string, subCtx *SubscriptionContext, variables json.RawMessage, publish subscriptionclient.PublishFunc) (string, error) {
	if subCtx == nil || subCtx.Clients == nil {
		return "", ErrMissingContext
	}
	if subCtx.OperationID == "" {
		return "", ErrMissingOperationID
	}

	client := subCtx.Clients.Get(m.url, m.cfg)

	m.log.Debug("subscriptionManager.CreateSubscription",
		abstractlogger.String("url", m.url),
		abstractlogger.String("operationId", subCtx.OperationID),
	)

	return client.CreateSubscription(ctx, query, variables, publish, subCtx.OperationID)
}

// Unsubscribe stops the operation of subCtx. Nothing happens when no client
// for this service exists in the cache.
func (m *Manager) Unsubscribe(subCtx *SubscriptionContext, force bool) error {
	if subCtx == nil || subCtx.Clients == nil {
		return ErrMissingContext
	}
	client, ok := subCtx.Clients.lookup(m.url)
	if !ok {
		return nil
	}
	return client.Unsubscribe(subCtx.OperationID, force)
}

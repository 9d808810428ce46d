// Package servicemap builds the federated ServiceMap by introspecting the SDL
// of every configured service.
package servicemap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/jensneuse/abstractlogger"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/wundergraph/federation-gateway/pkg/federation/typemap"
	"github.com/wundergraph/federation-gateway/pkg/httpclient"
	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient"
	"github.com/wundergraph/federation-gateway/pkg/subscriptionmanager"
)

// DefaultConcurrency caps the number of introspection requests in flight.
const DefaultConcurrency = 8

const serviceInfoQuery = "query ServiceInfo { _service { sdl } }"

var (
	ErrIntrospection    = errors.New("introspection request failed")
	ErrInvalidResponse  = errors.New("introspection response is not valid JSON")
	ErrMissingSDL       = errors.New("introspection response has no data._service.sdl")
	ErrDuplicateService = errors.New("duplicate service name")
	ErrMissingName      = errors.New("service name must not be empty")
)

// ServiceDescriptor configures one remote service.
type ServiceDescriptor struct {
	Name string
	URL  string
	// WSURL enables subscriptions when set.
	WSURL   string
	Headers http.Header
	Timeout time.Duration
}

// Transport sends GraphQL request bodies to a service.
type Transport interface {
	SendRequest(ctx context.Context, body []byte) ([]byte, error)
	Close() error
}

type TransportFactory func(service ServiceDescriptor) Transport

func defaultTransportFactory(service ServiceDescriptor) Transport {
	return httpclient.NewTransport(service.URL, service.Headers, service.Timeout)
}

type CreateSubscriptionFunc func(ctx context.Context, query string, subCtx *subscriptionmanager.SubscriptionContext, variables json.RawMessage, publish subscriptionclient.PublishFunc) (string, error)

type UnsubscribeFunc func(subCtx *subscriptionmanager.SubscriptionContext, force bool) error

// ServiceConfig is everything the gateway knows about one service.
type ServiceConfig struct {
	Name        string
	SendRequest func(ctx context.Context, body []byte) ([]byte, error)
	Close       func() error

	SchemaDefinition string
	TypeMap          map[string]typemap.FieldSet
	Types            typemap.TypeSet
	ExtensionTypeMap map[string]typemap.FieldSet

	// CreateSubscription and Unsubscribe are nil for services without WSURL.
	CreateSubscription CreateSubscriptionFunc
	Unsubscribe        UnsubscribeFunc
}

// ServiceMap maps service names to their configuration. It is not modified
// after Build returns.
type ServiceMap map[string]*ServiceConfig

// Close closes the transport of every service.
func (m ServiceMap) Close() error {
	var errs []error
	for _, name := range m.Names() {
		if err := m[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m ServiceMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OwnerOf returns the services that are authoritative for typeName.
func (m ServiceMap) OwnerOf(typeName string) []string {
	var owners []string
	for _, name := range m.Names() {
		if m[name].Types.Has(typeName) {
			owners = append(owners, name)
		}
	}
	return owners
}

type options struct {
	concurrency      int
	transportFactory TransportFactory
	logger           abstractlogger.Logger
	subscriptions    subscriptionclient.Config
	analyze          []typemap.Option
}

type Option func(o *options)

// WithConcurrency lowers the number of introspection requests in flight. It
// never raises it above DefaultConcurrency.
func WithConcurrency(concurrency int) Option {
	return func(o *options) {
		if concurrency > 0 && concurrency <= DefaultConcurrency {
			o.concurrency = concurrency
		}
	}
}

func WithTransportFactory(factory TransportFactory) Option {
	return func(o *options) {
		o.transportFactory = factory
	}
}

func WithLogger(logger abstractlogger.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSubscriptionConfig sets the base configuration of subscription clients.
// ServiceName and Reconnect are always set per service.
func WithSubscriptionConfig(cfg subscriptionclient.Config) Option {
	return func(o *options) {
		o.subscriptions = cfg
	}
}

func WithAnalyzeOptions(analyze ...typemap.Option) Option {
	return func(o *options) {
		o.analyze = append(o.analyze, analyze...)
	}
}

// Build introspects every service and returns the resulting ServiceMap. The
// first failing service aborts the build, in which case every transport is
// closed and no ServiceMap is returned.
func Build(ctx context.Context, services []ServiceDescriptor, opts ...Option) (ServiceMap, error) {
	o := options{
		concurrency:      DefaultConcurrency,
		transportFactory: defaultTransportFactory,
		logger:           abstractlogger.NoopLogger,
		subscriptions:    subscriptionclient.Config{MaxReconnectAttempts: subscriptionclient.UnlimitedReconnectAttempts},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(services); err != nil {
		return nil, err
	}

	serviceMap := make(ServiceMap, len(services))
	for _, service := range services {
		serviceMap[service.Name] = newServiceConfig(service, o)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*serviceInfo, len(services))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, service := range services {
		config := serviceMap[service.Name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := initService(gctx, config.SendRequest, o.analyze)
			if err != nil {
				return fmt.Errorf("service %s: %w", config.Name, err)
			}

			mu.Lock()
			results[config.Name] = info
			mu.Unlock()

			o.logger.Debug("serviceMap.Build",
				abstractlogger.String("service", config.Name),
				abstractlogger.Int("types", len(info.analysis.Types)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("serviceMap.Build", abstractlogger.Error(err))
		if closeErr := serviceMap.Close(); closeErr != nil {
			o.logger.Error("serviceMap.Close", abstractlogger.Error(closeErr))
		}
		return nil, err
	}

	for name, info := range results {
		config := serviceMap[name]
		config.SchemaDefinition = info.sdl
		config.TypeMap = info.analysis.TypeMap
		config.Types = info.analysis.Types
		config.ExtensionTypeMap = info.analysis.ExtensionTypeMap
	}

	return serviceMap, nil
}

func validate(services []ServiceDescriptor) error {
	seen := make(map[string]struct{}, len(services))
	for _, service := range services {
		if service.Name == "" {
			return ErrMissingName
		}
		if _, ok := seen[service.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateService, service.Name)
		}
		seen[service.Name] = struct{}{}
	}
	return nil
}

func newServiceConfig(service ServiceDescriptor, o options) *ServiceConfig {
	transport := o.transportFactory(service)
	config := &ServiceConfig{
		Name:        service.Name,
		SendRequest: transport.SendRequest,
		Close:       transport.Close,
	}

	if service.WSURL != "" {
		cfg := o.subscriptions
		cfg.ServiceName = service.Name
		cfg.Reconnect = true
		if cfg.Logger == nil {
			cfg.Logger = o.logger
		}
		manager := subscriptionmanager.New(service.WSURL, cfg)
		config.CreateSubscription = manager.CreateSubscription
		config.Unsubscribe = manager.Unsubscribe
	}

	return config
}

type serviceInfo struct {
	sdl      string
	analysis *typemap.Result
}

func initService(ctx context.Context, send func(ctx context.Context, body []byte) ([]byte, error), analyze []typemap.Option) (*serviceInfo, error) {
	response, err := send(ctx, serviceInfoRequest())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntrospection, err)
	}

	sdl, err := extractSDL(response)
	if err != nil {
		return nil, err
	}

	analysis, err := typemap.Analyze(sdl, analyze...)
	if err != nil {
		return nil, err
	}

	return &serviceInfo{sdl: sdl, analysis: analysis}, nil
}

func serviceInfoRequest() []byte {
	body, _ := sjson.SetBytes(nil, "query", serviceInfoQuery)
	return body
}

func extractSDL(response []byte) (string, error) {
	if !gjson.ValidBytes(response) {
		return "", ErrInvalidResponse
	}

	value, dataType, _, err := jsonparser.Get(response, "data", "_service", "sdl")
	if err != nil || dataType != jsonparser.String {
		return "", ErrMissingSDL
	}

	sdl, err := jsonparser.ParseString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return sdl, nil
}

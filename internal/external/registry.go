package external

import (
	"log/slog"
	"net/http"

	"weatherrules/internal/config"
	"weatherrules/internal/types"
)

// RegistryOption adjusts how NewProviderRegistry builds clients.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	httpClient  *http.Client
	baseURLs    map[string]string
	retryPolicy RetryPolicy
	clock       types.Clock
	clientOpts  []BaseClientOption
}

// WithHTTPClient replaces the gzip-aware default client.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpClient = c }
}

// WithBaseURL points one provider at another endpoint, e.g. a stub server.
func WithBaseURL(source, baseURL string) RegistryOption {
	return func(rc *registryConfig) { rc.baseURLs[source] = baseURL }
}

// WithRetryPolicy overrides DefaultRetryPolicy for every provider.
func WithRetryPolicy(p RetryPolicy) RegistryOption {
	return func(rc *registryConfig) { rc.retryPolicy = p }
}

// WithClock sets the clock used for forecast horizons.
func WithClock(c types.Clock) RegistryOption {
	return func(rc *registryConfig) { rc.clock = c }
}

// WithClientOptions passes options to every BaseClient.
func WithClientOptions(opts ...BaseClientOption) RegistryOption {
	return func(rc *registryConfig) { rc.clientOpts = append(rc.clientOpts, opts...) }
}

// NewProviderRegistry returns the providers to poll, in a fixed order.
// Keyed providers are included only when their key is configured; yr.no and
// open-meteo need no key and are always present. Each provider gets its own
// circuit breaker.
func NewProviderRegistry(cfg config.IngestionConfig, logger *slog.Logger, opts ...RegistryOption) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{
		baseURLs:    map[string]string{},
		retryPolicy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.httpClient == nil {
		rc.httpClient = NewHTTPClient(cfg.HTTPTimeout)
	}

	base := func(source string) *BaseClient {
		return NewBaseClient(rc.httpClient, "provider-"+source, rc.retryPolicy, cfg.UserAgent, rc.clientOpts...)
	}
	popts := func(source string) ProviderOptions {
		return ProviderOptions{BaseURL: rc.baseURLs[source], ForecastDays: cfg.ForecastDays, Clock: rc.clock}
	}

	var providers []Provider
	if cfg.OpenWeatherAPIKey.IsSet() {
		providers = append(providers, NewOpenWeatherClient(base(SourceOpenWeather), cfg.OpenWeatherAPIKey, popts(SourceOpenWeather)))
	} else {
		logger.Warn("OPENWEATHER_API_KEY not set, skipping provider", "source", SourceOpenWeather)
	}
	if cfg.WeatherAPIKey.IsSet() {
		providers = append(providers, NewWeatherAPIClient(base(SourceWeatherAPI), cfg.WeatherAPIKey, popts(SourceWeatherAPI)))
	} else {
		logger.Warn("WEATHERAPI_API_KEY not set, skipping provider", "source", SourceWeatherAPI)
	}
	providers = append(providers,
		NewYrNoClient(base(SourceYrNo), popts(SourceYrNo)),
		NewOpenMeteoClient(base(SourceOpenMeteo), popts(SourceOpenMeteo)),
	)

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	logger.Info("weather providers initialized", "providers", names)
	return providers
}

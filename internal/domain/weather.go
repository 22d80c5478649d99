package domain

import "context"

// WeatherProvider fetches current ambient conditions for the deployment's
// fixed location. Implementations are best-effort: a fetch failure must not
// block the pipeline, the event simply proceeds unenriched.
type WeatherProvider interface {
	Current(ctx context.Context) (WeatherConditions, error)
}

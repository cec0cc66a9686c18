package metrics

import "context"

// HealthChecker is implemented by the components whose failure makes the task unhealthy
type HealthChecker interface {
	// IsHealthy returns an error if the component can not make progress
	IsHealthy(ctx context.Context) error
}

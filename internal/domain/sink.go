package domain

import "context"

// StatsSink receives every BookStats the monitor produces.
type StatsSink interface {
	Name() string
	Write(ctx context.Context, stats BookStats) error
}

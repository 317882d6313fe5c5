package ports

import (
	"context"

	"deltar/domain/reservoir"
)

// TableSource supplies named input tables, such as the bundled example date sets
type TableSource interface {
	Table(ctx context.Context, name string) (*reservoir.Table, error)
	TableNames(ctx context.Context) ([]string, error)
}

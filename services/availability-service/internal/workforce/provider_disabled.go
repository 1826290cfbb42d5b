//go:build !protogen

package workforce

import (
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/engine"
)

// NewProvider returns nil when the workforce gRPC stubs are not compiled
// in; the resolver then applies the company calendar to every worker.
func NewProvider(_ string) (engine.HoursProvider, error) {
	return nil, nil
}

// internal/engine/builtin.go
package engine

import (
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/vendors/mennekes"
	"github.com/tamzrod/chargerlink/internal/vendors/schrack"
	"github.com/tamzrod/chargerlink/internal/vendors/speedwire"
	"github.com/tamzrod/chargerlink/internal/vendors/webasto"
)

// Builtin returns a registry with every supported charger family.
func Builtin() (*vendor.Registry, error) {
	r := vendor.NewRegistry()
	adapters := []vendor.Adapter{
		webasto.New(),
		webasto.NewLive(),
		schrack.New(),
		mennekes.NewECU(),
		mennekes.NewHCC3(),
		mennekes.NewCompact20(),
	}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	r.RegisterDiscovery(speedwire.Class, speedwire.Discovery)
	return r, nil
}

// Package ride models the synthetic ride-start traffic sent to the ride service.
package ride

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IDRange is an inclusive integer range that IDs are sampled from.
type IDRange struct {
	Min int `json:"min" yaml:"min" validate:"gte=1"`
	Max int `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// Contains reports whether id lies inside the range.
func (r IDRange) Contains(id int) bool {
	return id >= r.Min && id <= r.Max
}

// Catalog holds the value pools a Generator samples from.
type Catalog struct {
	Cities    []string `json:"cities" yaml:"cities" validate:"required,min=1,dive,required"`
	Pickups   []string `json:"pickups" yaml:"pickups" validate:"required,min=1,dive,required"`
	Drops     []string `json:"drops" yaml:"drops" validate:"required,min=1,dive,required"`
	RiderIDs  IDRange  `json:"riderIds" yaml:"riderIds"`
	DriverIDs IDRange  `json:"driverIds" yaml:"driverIds"`
}

// DefaultCatalog returns the pools used against the ride service by default.
func DefaultCatalog() Catalog {
	return Catalog{
		Cities:    []string{"Bangalore", "Mumbai", "Delhi", "Hyderabad", "Chennai"},
		Pickups:   []string{"Koramangala", "HSR Layout", "Whitefield", "Indiranagar", "Marathahalli"},
		Drops:     []string{"Airport", "City Center", "Mall", "Station", "Park"},
		RiderIDs:  IDRange{Min: 1, Max: 10},
		DriverIDs: IDRange{Min: 1, Max: 5},
	}
}

// Validate checks that every pool is non-empty and both ID ranges are sane.
func (c Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid ride catalog: %w", err)
	}
	return nil
}

// Request is the JSON body of POST /ride/start.
type Request struct {
	RiderID  int    `json:"rider_id" validate:"gte=1"`
	DriverID int    `json:"driver_id" validate:"gte=1"`
	Pickup   string `json:"pickup" validate:"required"`
	Drop     string `json:"drop" validate:"required"`
	City     string `json:"city" validate:"required"`
}

// Validate checks the request is well-formed on its own.
func (r Request) Validate() error {
	return validate.Struct(r)
}

// Within reports an error if any field falls outside the catalog.
func (r Request) Within(c Catalog) error {
	switch {
	case !c.RiderIDs.Contains(r.RiderID):
		return fmt.Errorf("rider_id %d outside [%d,%d]", r.RiderID, c.RiderIDs.Min, c.RiderIDs.Max)
	case !c.DriverIDs.Contains(r.DriverID):
		return fmt.Errorf("driver_id %d outside [%d,%d]", r.DriverID, c.DriverIDs.Min, c.DriverIDs.Max)
	case !slices.Contains(c.Cities, r.City):
		return fmt.Errorf("unknown city %q", r.City)
	case !slices.Contains(c.Pickups, r.Pickup):
		return fmt.Errorf("unknown pickup %q", r.Pickup)
	case !slices.Contains(c.Drops, r.Drop):
		return fmt.Errorf("unknown drop %q", r.Drop)
	}
	return nil
}

// Generator samples ride requests uniformly from a Catalog.
//
// A Generator is safe for concurrent use, but the scheduler gives every
// virtual user its own so the lock is never contended.
type Generator struct {
	catalog Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator validates the catalog and seeds a new generator.
func NewGenerator(catalog Catalog, seed int64) (*Generator, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		catalog: catalog,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Generate returns a freshly sampled request.
func (g *Generator) Generate() Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Request{
		RiderID:  g.intIn(g.catalog.RiderIDs),
		DriverID: g.intIn(g.catalog.DriverIDs),
		Pickup:   g.pick(g.catalog.Pickups),
		Drop:     g.pick(g.catalog.Drops),
		City:     g.pick(g.catalog.Cities),
	}
}

func (g *Generator) intIn(r IDRange) int {
	return r.Min + g.rng.Intn(r.Max-r.Min+1)
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}

package ride

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_IDsWithinBounds(t *testing.T) {
	gen, err := NewGenerator(DefaultCatalog(), 42)
	require.NoError(t, err)

	seenRiders := make(map[int]bool)
	seenDrivers := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		req := gen.Generate()
		assert.GreaterOrEqual(t, req.RiderID, 1)
		assert.LessOrEqual(t, req.RiderID, 10)
		assert.GreaterOrEqual(t, req.DriverID, 1)
		assert.LessOrEqual(t, req.DriverID, 5)
		seenRiders[req.RiderID] = true
		seenDrivers[req.DriverID] = true
	}

	// Both ends of each inclusive range must be reachable.
	assert.Len(t, seenRiders, 10)
	assert.Len(t, seenDrivers, 5)
}

func TestGenerator_StringsFromEnumerations(t *testing.T) {
	catalog := DefaultCatalog()
	gen, err := NewGenerator(catalog, 7)
	require.NoError(t, err)

	cities := make(map[string]bool)
	for i := 0; i < 2000; i++ {
		req := gen.Generate()
		assert.Contains(t, catalog.Cities, req.City)
		assert.Contains(t, catalog.Pickups, req.Pickup)
		assert.Contains(t, catalog.Drops, req.Drop)
		require.NoError(t, req.Validate())
		require.NoError(t, req.Within(catalog))
		cities[req.City] = true
	}
	assert.Len(t, cities, len(catalog.Cities))
}

func TestGenerator_SameSeedSameSequence(t *testing.T) {
	a, err := NewGenerator(DefaultCatalog(), 99)
	require.NoError(t, err)
	b, err := NewGenerator(DefaultCatalog(), 99)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestDefaultCatalog_FiveElementPools(t *testing.T) {
	c := DefaultCatalog()
	assert.Len(t, c.Cities, 5)
	assert.Len(t, c.Pickups, 5)
	assert.Len(t, c.Drops, 5)
	assert.Equal(t, IDRange{Min: 1, Max: 10}, c.RiderIDs)
	assert.Equal(t, IDRange{Min: 1, Max: 5}, c.DriverIDs)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Catalog)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Catalog) {}},
		{name: "no cities", mutate: func(c *Catalog) { c.Cities = nil }, wantErr: true},
		{name: "blank pickup", mutate: func(c *Catalog) { c.Pickups = []string{""} }, wantErr: true},
		{name: "zero rider min", mutate: func(c *Catalog) { c.RiderIDs.Min = 0 }, wantErr: true},
		{name: "inverted driver range", mutate: func(c *Catalog) { c.DriverIDs = IDRange{Min: 5, Max: 2} }, wantErr: true},
		{name: "single value range", mutate: func(c *Catalog) { c.DriverIDs = IDRange{Min: 3, Max: 3} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCatalog()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewGenerator_RejectsInvalidCatalog(t *testing.T) {
	c := DefaultCatalog()
	c.Drops = []string{}
	_, err := NewGenerator(c, 1)
	assert.Error(t, err)
}

func TestRequest_Within(t *testing.T) {
	c := DefaultCatalog()
	ok := Request{RiderID: 10, DriverID: 1, Pickup: "Whitefield", Drop: "Park", City: "Delhi"}
	assert.NoError(t, ok.Within(c))

	bad := ok
	bad.RiderID = 11
	assert.ErrorContains(t, bad.Within(c), "rider_id")

	bad = ok
	bad.City = "Pune"
	assert.ErrorContains(t, bad.Within(c), "city")
}

package cache

// AdminKey identifies one administrative lookup. Level is the boundary level
// name (ADM0, ADM1, ADM2).
type AdminKey struct {
	Level string
	Lat   float64
	Lon   float64
}

// SubsetKey identifies the postal rows of one country and state.
type SubsetKey struct {
	Country string
	State   string
}

// PointKey identifies a fully resolved postal lookup.
type PointKey struct {
	Country string
	State   string
	Lat     float64
	Lon     float64
}

package sim

// VehicleResource describes a number of vehicles per vehicle type.
type VehicleResource struct {
	VehicleCounts map[string]int `json:"vehicleCounts"`
}

// NewVehicleResource copies counts, dropping non-positive entries.
func NewVehicleResource(counts map[string]int) VehicleResource {
	r := VehicleResource{VehicleCounts: make(map[string]int, len(counts))}
	for vehicleType, n := range counts {
		if n > 0 {
			r.VehicleCounts[vehicleType] = n
		}
	}
	return r
}

// IsEmpty reports whether no vehicle of any type is described.
func (r VehicleResource) IsEmpty() bool {
	for _, n := range r.VehicleCounts {
		if n > 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (r VehicleResource) Clone() VehicleResource {
	return NewVehicleResource(r.VehicleCounts)
}

// Add returns the per-type sum of r and other.
func (r VehicleResource) Add(other VehicleResource) VehicleResource {
	sum := r.Clone()
	for vehicleType, n := range other.VehicleCounts {
		if n > 0 {
			sum.VehicleCounts[vehicleType] += n
		}
	}
	return sum
}

// Subtract returns r minus other, clamped at zero per type.
func (r VehicleResource) Subtract(other VehicleResource) VehicleResource {
	diff := VehicleResource{VehicleCounts: make(map[string]int)}
	for vehicleType, n := range r.VehicleCounts {
		if left := n - other.VehicleCounts[vehicleType]; left > 0 {
			diff.VehicleCounts[vehicleType] = left
		}
	}
	return diff
}

// Equal reports whether both describe the same non-zero counts.
func (r VehicleResource) Equal(other VehicleResource) bool {
	a, b := r.Clone().VehicleCounts, other.Clone().VehicleCounts
	if len(a) != len(b) {
		return false
	}
	for vehicleType, n := range a {
		if b[vehicleType] != n {
			return false
		}
	}
	return true
}

// ResourcePromise records that a remote party confirmed Resource to be en
// route at PromisedTime.
type ResourcePromise struct {
	PromisedTime int64           `json:"promisedTime"`
	Resource     VehicleResource `json:"resource"`
}

package model

// UnitStatus is the lifecycle state of a unit.
type UnitStatus string

const (
	StatusOffline   UnitStatus = "offline"
	StatusCharging  UnitStatus = "charging"
	StatusAvailable UnitStatus = "available"
	StatusInUse     UnitStatus = "in_use"
)

// Valid reports whether s is one of the known status values.
func (s UnitStatus) Valid() bool {
	switch s {
	case StatusOffline, StatusCharging, StatusAvailable, StatusInUse:
		return true
	}
	return false
}

// Role classifies an authenticated principal.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleCustomer   Role = "customer"
)

// UnitLocation is a single GPS fix reported by a unit. Time is unix seconds
// as asserted by the unit itself.
type UnitLocation struct {
	Unit    string  `json:"unit" bson:"unit"`
	Time    int64   `json:"time" bson:"time"`
	Lat     float64 `json:"lat" bson:"lat"`
	Lon     float64 `json:"lon" bson:"lon"`
	Heading float64 `json:"heading" bson:"heading"`
	Speed   float64 `json:"speed" bson:"speed"`
}

// UnitBattery is a single charge reading.
type UnitBattery struct {
	Unit  string  `json:"unit" bson:"unit"`
	Time  int64   `json:"time" bson:"time"`
	Level float64 `json:"level" bson:"level"`
}

// UnitStatusRecord captures a status transition. User is the principal
// holding the unit and is non-empty exactly when Status is in_use.
type UnitStatusRecord struct {
	Unit   string     `json:"unit" bson:"unit"`
	Time   int64      `json:"time" bson:"time"`
	Status UnitStatus `json:"status" bson:"status"`
	User   string     `json:"user,omitempty" bson:"user,omitempty"`
}

// StartupRecord is the handshake a unit performs on boot. The nonce proves
// liveness of the running instance during a take.
type StartupRecord struct {
	Unit  string `json:"unit" bson:"unit"`
	Time  int64  `json:"time" bson:"time"`
	Nonce string `json:"nonce" bson:"nonce"`
}

// UnitState is the composite last-known state of a unit. Sub-records are nil
// until the first report of that kind arrives; each carries its own
// timestamp and advances independently of the others.
type UnitState struct {
	Unit     string            `json:"unit"`
	Location *UnitLocation     `json:"location,omitempty"`
	Battery  *UnitBattery      `json:"battery,omitempty"`
	Status   *UnitStatusRecord `json:"status,omitempty"`
}

// AssignedUser returns the principal holding the unit, or "" when it is not
// in use.
func (s UnitState) AssignedUser() string {
	if s.Status != nil && s.Status.Status == StatusInUse {
		return s.Status.User
	}
	return ""
}

// CurrentStatus returns the status sub-record's value, defaulting to offline
// for a unit that has never reported one.
func (s UnitState) CurrentStatus() UnitStatus {
	if s.Status == nil {
		return StatusOffline
	}
	return s.Status.Status
}

// Clone returns a deep copy so cache snapshots can leave the owning map.
func (s UnitState) Clone() UnitState {
	out := UnitState{Unit: s.Unit}
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	if s.Battery != nil {
		bat := *s.Battery
		out.Battery = &bat
	}
	if s.Status != nil {
		st := *s.Status
		out.Status = &st
	}
	return out
}

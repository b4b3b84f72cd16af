// Package visibility decides which events a stream subscriber may see.
package visibility

import "github.com/wodeewa/fleetd/core/model"

// Visible reports whether the event may be delivered to a subscriber
// authenticated as principal with the given role. Pure and side-effect-free;
// it runs once per (subscription, event) pair on the dispatch path.
//
// Policy, default deny:
//   - keepalive and stream-end events are always visible
//   - admins see every unit
//   - owners see their own in-use unit
//   - available and charging units are public
func Visible(principal string, role model.Role, ev model.Event) bool {
	if ev.Kind != model.EventUnitChanged {
		return true
	}
	if ev.Unit == nil {
		return false
	}
	if role == model.RoleAdmin {
		return true
	}
	if user := ev.Unit.AssignedUser(); user != "" && user == principal {
		return true
	}
	switch ev.Unit.CurrentStatus() {
	case model.StatusAvailable, model.StatusCharging:
		return true
	}
	return false
}

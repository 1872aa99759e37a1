package model

import "time"

// DefaultMaxCharge is the threshold used for vehicles that have no saved settings.
const DefaultMaxCharge = 75

// VehicleSettings is the persisted stop-charging policy of a linked vehicle.
type VehicleSettings struct {
	ExternalID       string    `json:"externalId"`
	UserID           string    `json:"userId"`
	DesiredMaxCharge int       `json:"desiredMaxCharge"`
	IsActive         bool      `json:"isActive"`
	LastActionID     *string   `json:"lastActionId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ChargeState is the live charging telemetry reported for a vehicle.
type ChargeState struct {
	IsCharging         bool      `json:"isCharging"`
	IsFullyCharged     bool      `json:"isFullyCharged"`
	IsPluggedIn        bool      `json:"isPluggedIn"`
	BatteryLevel       *int      `json:"batteryLevel"`
	ChargeRate         *float64  `json:"chargeRate"`
	PowerDeliveryState string    `json:"powerDeliveryState"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// ReachedThreshold reports whether charging should be stopped for the given
// threshold. A fully charged vehicle always qualifies, even when the battery
// level is unknown.
func (c ChargeState) ReachedThreshold(threshold int) bool {
	if c.IsFullyCharged {
		return true
	}
	if !c.IsCharging || c.BatteryLevel == nil {
		return false
	}
	return *c.BatteryLevel >= threshold
}

// VehicleInformation holds static vehicle metadata.
type VehicleInformation struct {
	DisplayName string `json:"displayName"`
	VIN         string `json:"vin"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Year        int    `json:"year"`
}

// Vehicle is a vehicle linked to a user at the telemetry provider.
type Vehicle struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Vendor      string             `json:"vendor"`
	IsReachable *bool              `json:"isReachable"`
	LastSeen    time.Time          `json:"lastSeen"`
	Information VehicleInformation `json:"information"`
	ChargeState ChargeState        `json:"chargeState"`
}

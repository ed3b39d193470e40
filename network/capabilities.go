package network

import "peerlink/models"

// Permission names one runtime grant a transport needs.
type Permission string

const (
	PermissionRadioScan     Permission = "bluetooth.scan"
	PermissionRadioConnect  Permission = "bluetooth.connect"
	PermissionRadioLegacy   Permission = "bluetooth"
	PermissionFineLocation  Permission = "location.fine"
	PermissionNearbyDevices Permission = "wifi.nearby_devices"
	PermissionTag           Permission = "nfc"
)

// Availability is the hardware and grant status of one transport.
type Availability string

const (
	AvailabilityOn           Availability = "ON"
	AvailabilityOff          Availability = "OFF"
	AvailabilityUnsupported  Availability = "UNSUPPORTED"
	AvailabilityNoPermission Availability = "NO_PERMISSION"
)

// Capabilities answers permission queries on behalf of the host platform.
type Capabilities interface {
	// APILevel is the host platform version used to pick permission sets.
	APILevel() int
	Granted(perms ...Permission) bool
	// RequestEnable asks the user to turn a transport on. It does not wait.
	RequestEnable(transport models.Transport)
}

// GrantAll is a Capabilities that grants everything, for hosts without a
// runtime permission model.
type GrantAll struct {
	Level int
}

func (g GrantAll) APILevel() int { return g.Level }

func (GrantAll) Granted(...Permission) bool { return true }

func (GrantAll) RequestEnable(models.Transport) {}

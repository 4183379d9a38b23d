package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/host"
	psnet "github.com/shirou/gopsutil/net"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// Identity holds the device's hardware id and role.
type Identity struct {
	HWID     string `json:"hwid"`
	Role     string `json:"role"`
	Hostname string `json:"hostname,omitempty"`
	Source   string `json:"source"` // file, mac or hostname
}

// DeviceInfoInterface defines methods for reading device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetDeviceID() string
	GetDeviceIdentity() *Identity
}

// InterfaceLister returns the host's network interfaces.
type InterfaceLister func() ([]psnet.InterfaceStat, error)

// DeviceInfo resolves the hardware id from the boot partition id file,
// falling back to the first MAC address and then the hostname.
type DeviceInfo struct {
	DeviceIDFile string
	Identity     Identity
	fileOps      file.FileOperations
	interfaces   InterfaceLister
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(idFile, role string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceIDFile: idFile,
		fileOps:      fileOps,
		interfaces:   psnet.Interfaces,
		Identity:     Identity{Role: role},
	}
}

// WithInterfaces overrides the interface lister used for the MAC fallback.
func (d *DeviceInfo) WithInterfaces(lister InterfaceLister) *DeviceInfo {
	d.interfaces = lister
	return d
}

// LoadDeviceInfo resolves the hardware id.
func (d *DeviceInfo) LoadDeviceInfo() error {
	if info, err := host.Info(); err == nil {
		d.Identity.Hostname = info.Hostname
	}

	if d.DeviceIDFile != "" {
		id, err := d.fileOps.ReadFile(d.DeviceIDFile)
		switch {
		case err == nil && strings.TrimSpace(id) != "":
			d.Identity.HWID = strings.TrimSpace(id)
			d.Identity.Source = "file"
			return nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("failed to read %s: %w", d.DeviceIDFile, err)
		}
	}

	if mac := d.firstMAC(); mac != "" {
		d.Identity.HWID = mac
		d.Identity.Source = "mac"
		return nil
	}

	if d.Identity.Hostname == "" {
		return errors.New("unable to determine a hardware id")
	}
	d.Identity.HWID = d.Identity.Hostname
	d.Identity.Source = "hostname"
	return nil
}

func (d *DeviceInfo) firstMAC() string {
	if d.interfaces == nil {
		return ""
	}
	ifaces, err := d.interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || isLoopback(iface.Flags) {
			continue
		}
		return strings.ReplaceAll(strings.ToLower(iface.HardwareAddr), ":", "")
	}
	return ""
}

func isLoopback(flags []string) bool {
	for _, f := range flags {
		if f == "loopback" {
			return true
		}
	}
	return false
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the hardware id.
func (d *DeviceInfo) GetDeviceID() string {
	return d.Identity.HWID
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sidrelay/sidrelay/internal/errs"
)

// DeviceEntry describes one logical SID's persisted connection
// parameters, so a multi-device rig doesn't need re-specifying on
// every command line. Only the fields relevant to Backend are
// meaningful; the rest are zero.
type DeviceEntry struct {
	Backend     string `yaml:"backend"` // "usb", "net", "ftdi", "http"
	Address     string `yaml:"address,omitempty"`      // host:port for net/http
	SerialPath  string `yaml:"serial_path,omitempty"`   // FTDI device path
	USBSerial   string `yaml:"usb_serial,omitempty"`    // USB device serial number
	ModelHint   string `yaml:"model_hint,omitempty"`    // "6581", "8580", ...
	SocketCount int    `yaml:"socket_count,omitempty"`
	ResetGPIO   *int   `yaml:"reset_gpio_line,omitempty"`
}

// DeviceRegistryFile is the top-level YAML document: one entry per
// logical SID index, in order.
type DeviceRegistryFile struct {
	Devices []DeviceEntry `yaml:"devices"`
}

// LoadRegistryFile reads and parses a device-registry YAML file. An
// empty path is not an error: it simply returns an empty registry, so
// the CLI's -d/-hs/-hu flags remain sufficient on their own.
func LoadRegistryFile(path string) (DeviceRegistryFile, error) {
	if path == "" {
		return DeviceRegistryFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DeviceRegistryFile{}, errs.Config(fmt.Sprintf("reading device registry file %s", path), err)
	}

	var file DeviceRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return DeviceRegistryFile{}, errs.Config(fmt.Sprintf("parsing device registry file %s", path), err)
	}
	return file, nil
}

package device

import (
	"fmt"

	"github.com/gsmcwhirter/go-util/v7/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port detected on the system.
type PortInfo struct {
	Name        string
	Description string
}

// ListPorts enumerates the system's serial ports, with USB metadata where
// available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "could not enumerate serial ports")
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if d.IsUSB {
			if desc == "" {
				desc = "USB serial port"
			}
			desc += fmt.Sprintf(" (USB %s:%s S/N %s)", d.VID, d.PID, d.SerialNumber)
		} else if desc == "" {
			desc = "serial port"
		}
		ports = append(ports, PortInfo{Name: d.Name, Description: desc})
	}

	return ports, nil
}

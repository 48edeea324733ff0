package registry

import (
	"context"
	"strings"

	"github.com/jochenvg/go-udev"

	"github.com/sidrelay/sidrelay/internal/backend/usb"
)

// HotplugEvent describes a USB add/remove event for a device matching
// sidrelay's vendor/product ID.
type HotplugEvent struct {
	Action string // "add" or "remove"
	Syspath string
}

// WatchUSB monitors udev for USB-bulk SID device arrivals/departures
// and delivers them on the returned channel until ctx is cancelled.
// The channel is closed when the monitor stops.
func WatchUSB(ctx context.Context) (<-chan HotplugEvent, error) {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("usb"); err != nil {
		return nil, err
	}

	deviceCh, _, err := mon.DeviceChan(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan HotplugEvent)
	go func() {
		defer close(out)
		for dev := range deviceCh {
			if !matchesVendorProduct(dev) {
				continue
			}
			ev := HotplugEvent{Action: dev.Action(), Syspath: dev.Syspath()}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func matchesVendorProduct(dev *udev.Device) bool {
	vendor := strings.ToLower(dev.PropertyValue("ID_VENDOR_ID"))
	product := strings.ToLower(dev.PropertyValue("ID_MODEL_ID"))
	wantVendor := hexWord(usb.VendorID)
	wantProduct := hexWord(usb.ProductID)
	return vendor == wantVendor && product == wantProduct
}

func hexWord(v uint16) string {
	const hexDigits = "0123456789abcdef"
	b := [4]byte{
		hexDigits[(v>>12)&0xf],
		hexDigits[(v>>8)&0xf],
		hexDigits[(v>>4)&0xf],
		hexDigits[v&0xf],
	}
	return string(b[:])
}

//go:build !linux

package ble

// NewPeripheral returns ErrUnsupported: the beacon hosts its GATT service
// through BlueZ, which is only available on Linux.
func NewPeripheral(Limits) (Peripheral, error) {
	return nil, ErrUnsupported
}

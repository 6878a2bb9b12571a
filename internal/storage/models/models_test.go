package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validDevice() *Device {
	return &Device{
		ConnectionID:   "conn-1",
		Serial:         "R58M123",
		Brand:          "Google",
		Model:          "Pixel 7",
		AndroidRelease: "14",
		AndroidSDKInt:  34,
	}
}

func TestDevice_DisplayName(t *testing.T) {
	d := validDevice()
	assert.Equal(t, "Google Pixel 7 (Android 14)", d.DisplayName())

	d.WifiIPAddress = OptionalString("10.0.0.5")
	assert.Equal(t, "Google Pixel 7 (Android 14) - 10.0.0.5", d.DisplayName())
}

func TestDevice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr string
	}{
		{"合法", func(*Device) {}, ""},
		{"缺serial", func(d *Device) { d.Serial = " " }, "device serial is required"},
		{"SDK非正数", func(d *Device) { d.AndroidSDKInt = 0 }, "android SDK int must be a positive number"},
		{"MAC格式", func(d *Device) { d.MACAddress = OptionalString("AA-BB-CC-DD-EE-FF") }, "invalid MAC address format"},
		{"IPv6不接受", func(d *Device) { d.WifiIPAddress = OptionalString("::1") }, "invalid IP address format"},
		{"IMEI格式", func(d *Device) { d.IMEI = OptionalString("1234") }, "invalid IMEI format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDevice()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDevice_Identifiers(t *testing.T) {
	d := validDevice()
	d.ID = 42
	assert.Equal(t, "42", d.StateID())
	assert.Equal(t, "", d.BackupIdentifier())

	d.MACAddress = OptionalString("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.BackupIdentifier())
	d.IMEI = OptionalString("356938035643809")
	assert.Equal(t, "356938035643809", d.BackupIdentifier())
}

package models

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 注意：
// - 与 internal/migrate/sql 中的 devices 表保持一致
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

var (
	imeiPattern = regexp.MustCompile(`^\d{15,16}$`)
	macPattern  = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// Device 映射 devices 表：按 serial 唯一的 Android 设备身份
type Device struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ConnectionID string `gorm:"column:connection_id;type:text;not null" json:"connectionId"`
	Serial       string `gorm:"column:serial;type:text;not null;uniqueIndex" json:"serial"`
	// 备用标识，可空
	IMEI          *string `gorm:"column:imei;type:text;index" json:"imei,omitempty"`
	MACAddress    *string `gorm:"column:mac_address;type:text;index" json:"macAddress,omitempty"`
	WifiIPAddress *string `gorm:"column:wifi_ip_address;type:text" json:"wifiIpAddress,omitempty"`

	Brand          string `gorm:"column:brand;type:text;not null" json:"brand"`
	Model          string `gorm:"column:model;type:text;not null" json:"model"`
	AndroidRelease string `gorm:"column:android_release;type:text;not null" json:"androidRelease"`
	AndroidSDKInt  int    `gorm:"column:android_sdk_int;not null" json:"androidSdkInt"`

	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at;index" json:"lastSeenAt,omitempty"`
}

func (Device) TableName() string { return "devices" }

// StateID 设备在状态存储中的键
func (d *Device) StateID() string {
	return strconv.FormatInt(d.ID, 10)
}

// DisplayName 形如 "Google Pixel 7 (Android 14) - 10.0.0.5"
func (d *Device) DisplayName() string {
	name := d.Brand + " " + d.Model + " (Android " + d.AndroidRelease + ")"
	if d.WifiIPAddress != nil && *d.WifiIPAddress != "" {
		name += " - " + *d.WifiIPAddress
	}
	return name
}

// BackupIdentifier IMEI 优先，其次 MAC
func (d *Device) BackupIdentifier() string {
	if d.IMEI != nil && *d.IMEI != "" {
		return *d.IMEI
	}
	if d.MACAddress != nil {
		return *d.MACAddress
	}
	return ""
}

// Validate 入库前的字段约束
func (d *Device) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ConnectionID) == "" {
		errs = append(errs, errors.New("connection id is required"))
	}
	if strings.TrimSpace(d.Serial) == "" {
		errs = append(errs, errors.New("device serial is required"))
	}
	if strings.TrimSpace(d.Brand) == "" {
		errs = append(errs, errors.New("device brand is required"))
	}
	if strings.TrimSpace(d.Model) == "" {
		errs = append(errs, errors.New("device model is required"))
	}
	if strings.TrimSpace(d.AndroidRelease) == "" {
		errs = append(errs, errors.New("android release is required"))
	}
	if d.AndroidSDKInt < 1 {
		errs = append(errs, errors.New("android SDK int must be a positive number"))
	}
	if d.MACAddress != nil && *d.MACAddress != "" && !macPattern.MatchString(*d.MACAddress) {
		errs = append(errs, errors.New("invalid MAC address format"))
	}
	if d.WifiIPAddress != nil && *d.WifiIPAddress != "" {
		if ip := net.ParseIP(*d.WifiIPAddress); ip == nil || ip.To4() == nil {
			errs = append(errs, errors.New("invalid IP address format"))
		}
	}
	if d.IMEI != nil && *d.IMEI != "" && !imeiPattern.MatchString(*d.IMEI) {
		errs = append(errs, errors.New("invalid IMEI format"))
	}
	return errors.Join(errs...)
}

// OptionalString 空串转 nil
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

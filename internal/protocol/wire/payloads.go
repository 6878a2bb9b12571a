package wire

// ChatData chat 消息负载
type ChatData struct {
	Content string `json:"content" validate:"required" msg:"Message content cannot be empty"`
	Author  string `json:"author,omitempty"`
	Room    string `json:"room,omitempty"`
}

// JoinRoomData join_room 消息负载
type JoinRoomData struct {
	Room     string `json:"room" validate:"required" msg:"Room name is required"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// DeviceInfoData device_info 消息负载
type DeviceInfoData struct {
	Serial        string `json:"serial" validate:"required" msg:"Device serial is required"`
	IMEI          string `json:"imei,omitempty" validate:"omitempty,imei" msg:"IMEI must be 15-16 digits"`
	MACAddress    string `json:"macAddress,omitempty" validate:"omitempty,android_mac" msg:"Invalid MAC address format"`
	WifiIPAddress string `json:"wifiIpAddress,omitempty" validate:"omitempty,ipv4" msg:"Invalid IP address format"`
	Brand         string `json:"brand" validate:"required" msg:"Device brand is required"`
	Model         string `json:"model" validate:"required" msg:"Device model is required"`
	Release       string `json:"release" validate:"required" msg:"Android release is required"`
	SDKInt        *int   `json:"sdkInt" validate:"required,min=1" msg:"Android SDK int must be a positive integer"`
}

// DeviceStateUpdateData device_state_update 消息负载
type DeviceStateUpdateData struct {
	DeviceID     string         `json:"deviceId" validate:"required" msg:"Device ID is required"`
	Serial       string         `json:"serial" validate:"required" msg:"Device serial is required"`
	State        string         `json:"state" validate:"required" msg:"State is required"`
	BatteryLevel *float64       `json:"batteryLevel,omitempty" validate:"omitempty,min=0,max=100" msg:"Battery level must be between 0 and 100"`
	Temperature  *float64       `json:"temperature,omitempty" validate:"omitempty,min=-50,max=100" msg:"Temperature must be between -50 and 100"`
	CPUUsage     *float64       `json:"cpuUsage,omitempty" validate:"omitempty,min=0,max=100" msg:"CPU usage must be between 0 and 100"`
	MemoryUsage  *float64       `json:"memoryUsage,omitempty" validate:"omitempty,min=0,max=100" msg:"Memory usage must be between 0 and 100"`
	StorageUsage *float64       `json:"storageUsage,omitempty" validate:"omitempty,min=0,max=100" msg:"Storage usage must be between 0 and 100"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GetDeviceStatesData get_device_states 消息负载
type GetDeviceStatesData struct {
	DeviceIDs      []string `json:"deviceIds,omitempty"`
	State          string   `json:"state,omitempty"`
	IncludeMetrics *bool    `json:"includeMetrics,omitempty"`
}

// WantMetrics includeMetrics 缺省为 true
func (d GetDeviceStatesData) WantMetrics() bool {
	return d.IncludeMetrics == nil || *d.IncludeMetrics
}

// EmptyData 无负载消息（leave_room、ping）
type EmptyData struct{}

package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationErrors(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Errors
}

func TestValidatorParse_Envelope(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"缺少type", `{"data":{}}`, []string{"type: Required"}},
		{"未知type", `{"type":"dance"}`, []string{"type: Invalid enum value. Received 'dance'"}},
		{"type非字符串", `{"type":5}`, []string{"type: Expected string, received number"}},
		{"data为数组", `{"type":"ping","data":[]}`, []string{"data: Expected object, received array"}},
		{"data为null", `{"type":"ping","data":null}`, []string{"data: Expected object, received null"}},
		{"id非字符串", `{"type":"ping","id":1}`, []string{"id: Expected string, received number"}},
		{"顶层为数组", `[1,2]`, []string{"Expected object, received array"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.raw))
			assert.Equal(t, tt.want, validationErrors(t, err))
		})
	}
}

func TestValidatorParse_InvalidJSON(t *testing.T) {
	_, err := NewValidator().Parse([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.Equal(t, "Invalid JSON format", err.Error())
}

func TestValidatorParse_Defaults(t *testing.T) {
	v := NewValidator()

	t.Run("缺省data与id", func(t *testing.T) {
		msg, err := v.Parse([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		assert.Equal(t, TypePing, msg.Type)
		assert.NotEmpty(t, msg.ID)
		assert.Empty(t, msg.Data)
		assert.False(t, msg.Timestamp.IsZero())
	})

	t.Run("保留客户端id", func(t *testing.T) {
		msg, err := v.Parse([]byte(`{"type":"chat","id":"m-1","clientId":"c-9","data":{"content":"hi"}}`))
		require.NoError(t, err)
		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, "c-9", msg.ClientID)
		assert.Equal(t, "hi", msg.Str("content"))
	})

	t.Run("无schema的已知类型只校验信封", func(t *testing.T) {
		msg, err := v.Parse([]byte(`{"type":"broadcast","data":{"anything":1}}`))
		require.NoError(t, err)
		assert.Equal(t, TypeBroadcast, msg.Type)
	})
}

func TestValidatorParse_Payloads(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"chat空内容", `{"type":"chat","data":{"content":""}}`,
			[]string{"data.content: Message content cannot be empty"}},
		{"join_room缺房间", `{"type":"join_room","data":{"username":"bob"}}`,
			[]string{"data.room: Room name is required"}},
		{"device_info缺多个字段", `{"type":"device_info","data":{"serial":"S1","sdkInt":30}}`,
			[]string{
				"data.brand: Device brand is required",
				"data.model: Device model is required",
				"data.release: Android release is required",
			}},
		{"device_info非法IMEI", `{"type":"device_info","data":{"serial":"S1","brand":"b","model":"m","release":"13","sdkInt":33,"imei":"12ab"}}`,
			[]string{"data.imei: IMEI must be 15-16 digits"}},
		{"device_info非法MAC", `{"type":"device_info","data":{"serial":"S1","brand":"b","model":"m","release":"13","sdkInt":33,"macAddress":"aa-bb-cc-dd-ee-ff"}}`,
			[]string{"data.macAddress: Invalid MAC address format"}},
		{"device_info非法IP", `{"type":"device_info","data":{"serial":"S1","brand":"b","model":"m","release":"13","sdkInt":33,"wifiIpAddress":"300.1.1.1"}}`,
			[]string{"data.wifiIpAddress: Invalid IP address format"}},
		{"device_info sdkInt为0", `{"type":"device_info","data":{"serial":"S1","brand":"b","model":"m","release":"13","sdkInt":0}}`,
			[]string{"data.sdkInt: Android SDK int must be a positive integer"}},
		{"device_info sdkInt为小数", `{"type":"device_info","data":{"serial":"S1","brand":"b","model":"m","release":"13","sdkInt":3.5}}`,
			[]string{"data.sdkInt: Expected integer, received number"}},
		{"state_update电量越界", `{"type":"device_state_update","data":{"deviceId":"d","serial":"s","state":"ONLINE","batteryLevel":101}}`,
			[]string{"data.batteryLevel: Battery level must be between 0 and 100"}},
		{"state_update温度越界", `{"type":"device_state_update","data":{"deviceId":"d","serial":"s","state":"ONLINE","temperature":-60}}`,
			[]string{"data.temperature: Temperature must be between -50 and 100"}},
		{"state_update缺状态", `{"type":"device_state_update","data":{"deviceId":"d","serial":"s"}}`,
			[]string{"data.state: State is required"}},
		{"get_device_states类型错误", `{"type":"get_device_states","data":{"includeMetrics":"yes"}}`,
			[]string{"data.includeMetrics: Expected boolean, received string"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.raw))
			assert.Equal(t, tt.want, validationErrors(t, err))
		})
	}
}

func TestValidatorParse_ValidDeviceInfo(t *testing.T) {
	raw := `{"type":"device_info","data":{"serial":"R58M123","imei":"356938035643809","macAddress":"AA:bb:CC:dd:EE:ff","wifiIpAddress":"192.168.1.20","brand":"samsung","model":"SM-G991B","release":"13","sdkInt":33}}`
	msg, err := NewValidator().Parse([]byte(raw))
	require.NoError(t, err)

	var d DeviceInfoData
	require.NoError(t, msg.Bind(&d))
	assert.Equal(t, "R58M123", d.Serial)
	require.NotNil(t, d.SDKInt)
	assert.Equal(t, 33, *d.SDKInt)
}

func TestValidatorRegister(t *testing.T) {
	type broadcastData struct {
		Text string `json:"text" validate:"required"`
	}
	v := NewValidator()
	v.Register(TypeBroadcast, broadcastData{})

	_, err := v.Parse([]byte(`{"type":"broadcast","data":{}}`))
	assert.Equal(t, []string{"data.text: Required"}, validationErrors(t, err))
}

func TestGetDeviceStatesData_WantMetrics(t *testing.T) {
	off := false
	assert.True(t, GetDeviceStatesData{}.WantMetrics())
	assert.False(t, GetDeviceStatesData{IncludeMetrics: &off}.WantMetrics())
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Errors: []string{"data.a: x", "data.b: y"}}
	assert.Equal(t, "Validation failed: data.a: x, data.b: y", err.Error())
}

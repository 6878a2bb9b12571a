package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	imeiRegex = regexp.MustCompile(`^\d{15,16}$`)
	macRegex  = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// ErrInvalidJSON 原始帧不是合法 JSON
var ErrInvalidJSON = errors.New("Invalid JSON format")

// ValidationError 结构校验失败，Errors 形如 "data.serial: Device serial is required"
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "Validation failed: " + strings.Join(e.Errors, ", ")
}

// Validator 消息解析与校验
type Validator struct {
	v *validator.Validate

	mu      sync.RWMutex
	schemas map[MessageType]reflect.Type
}

// NewValidator 创建校验器并注册内置负载结构
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("imei", func(fl validator.FieldLevel) bool {
		return imeiRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("android_mac", func(fl validator.FieldLevel) bool {
		return macRegex.MatchString(fl.Field().String())
	})

	mv := &Validator{v: v, schemas: make(map[MessageType]reflect.Type)}
	mv.Register(TypeChat, ChatData{})
	mv.Register(TypeJoinRoom, JoinRoomData{})
	mv.Register(TypeLeaveRoom, EmptyData{})
	mv.Register(TypePing, EmptyData{})
	mv.Register(TypeDeviceInfo, DeviceInfoData{})
	mv.Register(TypeDeviceStateUpdate, DeviceStateUpdateData{})
	mv.Register(TypeGetDeviceStates, GetDeviceStatesData{})
	return mv
}

// Register 为消息类型登记负载结构（传入零值），覆盖已有登记
func (mv *Validator) Register(t MessageType, proto any) {
	rt := reflect.TypeOf(proto)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	mv.mu.Lock()
	mv.schemas[t] = rt
	mv.mu.Unlock()
}

// Parse 解析并校验原始帧。
// 返回 ErrInvalidJSON 或 *ValidationError；成功时 id 缺省补 UUID。
func (mv *Validator) Parse(raw []byte) (*Message, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Errors: []string{
				fmt.Sprintf("Expected object, received %s", received(typeErr.Value)),
			}}
		}
		return nil, ErrInvalidJSON
	}
	if env == nil {
		return nil, &ValidationError{Errors: []string{"Expected object, received null"}}
	}

	var errs []string
	msgType, typeErr := parseType(env["type"])
	if typeErr != "" {
		errs = append(errs, "type: "+typeErr)
	}
	id, idErr := optionalString(env["id"])
	if idErr != "" {
		errs = append(errs, "id: "+idErr)
	}
	clientID, cidErr := optionalString(env["clientId"])
	if cidErr != "" {
		errs = append(errs, "clientId: "+cidErr)
	}
	data, rawData, dataErr := parseData(env["data"])
	if dataErr != "" {
		errs = append(errs, "data: "+dataErr)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	if fieldErrs := mv.validatePayload(msgType, rawData); len(fieldErrs) > 0 {
		return nil, &ValidationError{Errors: fieldErrs}
	}

	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
		rawData:   rawData,
	}, nil
}

func (mv *Validator) validatePayload(t MessageType, rawData json.RawMessage) []string {
	mv.mu.RLock()
	rt, ok := mv.schemas[t]
	mv.mu.RUnlock()
	if !ok {
		return nil
	}

	ptr := reflect.New(rt)
	if err := json.Unmarshal(rawData, ptr.Interface()); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return []string{fmt.Sprintf("data.%s: Expected %s, received %s",
				typeErr.Field, expected(typeErr.Type), received(typeErr.Value))}
		}
		return []string{"data: " + err.Error()}
	}
	if rt.Kind() != reflect.Struct || rt.NumField() == 0 {
		return nil
	}

	err := mv.v.Struct(ptr.Interface())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"data: " + err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, "data."+fieldPath(fe)+": "+fieldMessage(rt, fe))
	}
	return out
}

// fieldPath 去掉结构名前缀，保留 json 路径
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(rt reflect.Type, fe validator.FieldError) string {
	if sf, ok := rt.FieldByName(fe.StructField()); ok {
		if m := sf.Tag.Get("msg"); m != "" {
			return m
		}
	}
	switch fe.Tag() {
	case "required":
		return "Required"
	case "min":
		return "Must be greater than or equal to " + fe.Param()
	case "max":
		return "Must be less than or equal to " + fe.Param()
	default:
		return "Invalid value"
	}
}

func parseType(raw json.RawMessage) (MessageType, string) {
	if isAbsent(raw) {
		return "", "Required"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", "Expected string, received " + kindOf(raw)
	}
	t := MessageType(s)
	if !t.Known() {
		return "", fmt.Sprintf("Invalid enum value. Received '%s'", s)
	}
	return t, ""
}

func optionalString(raw json.RawMessage) (string, string) {
	if isAbsent(raw) {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", "Expected string, received " + kindOf(raw)
	}
	return s, ""
}

func parseData(raw json.RawMessage) (map[string]any, json.RawMessage, string) {
	if len(raw) == 0 {
		return map[string]any{}, json.RawMessage("{}"), ""
	}
	if kindOf(raw) != "object" {
		return nil, nil, "Expected object, received " + kindOf(raw)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, "Expected object, received " + kindOf(raw)
	}
	return m, raw, ""
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0
}

// kindOf 依据首字符判断 JSON 值类型
func kindOf(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return "undefined"
	}
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func expected(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

// received 规整 json.UnmarshalTypeError.Value（如 "number 3.5"、"bool"）
func received(v string) string {
	first, _, _ := strings.Cut(v, " ")
	if first == "bool" {
		return "boolean"
	}
	return first
}

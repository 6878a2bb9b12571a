// Package docs 只读查询接口的 Swagger 描述，由 gin-swagger 在 /swagger 下提供。
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/devices": {
            "get": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "查询设备列表",
                "parameters": [
                    {"type": "string", "description": "品牌过滤", "name": "brand", "in": "query"},
                    {"type": "integer", "description": "每页数量(默认100,最大1000)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "偏移量(默认0)", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.DeviceList"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.Error"}}
                }
            }
        },
        "/api/devices/{serial}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "查询设备详情",
                "parameters": [
                    {"type": "string", "description": "设备序列号", "name": "serial", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.DeviceDetail"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.Error"}}
                }
            }
        },
        "/api/device-states": {
            "get": {
                "produces": ["application/json"],
                "tags": ["device-states"],
                "summary": "查询设备状态",
                "parameters": [
                    {"type": "string", "description": "逗号分隔的设备ID", "name": "ids", "in": "query"},
                    {"type": "string", "description": "按状态过滤", "name": "state", "in": "query"},
                    {"type": "boolean", "description": "是否返回指标(默认true)", "name": "includeMetrics", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.Error"}}
                }
            }
        },
        "/api/device-states/definitions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["device-states"],
                "summary": "状态定义",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/api/connections": {
            "get": {
                "produces": ["application/json"],
                "tags": ["connections"],
                "summary": "连接快照",
                "parameters": [
                    {"type": "string", "description": "房间过滤", "name": "room", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        }
    },
    "definitions": {
        "api.Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "api.DeviceList": {
            "type": "object",
            "properties": {
                "devices": {"type": "array", "items": {"type": "object"}},
                "total": {"type": "integer"},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "api.DeviceDetail": {
            "type": "object",
            "properties": {
                "device": {"type": "object"},
                "displayName": {"type": "string"},
                "state": {"type": "object"},
                "healthScore": {"type": "integer"},
                "needsAttention": {"type": "boolean"},
                "attentionReasons": {"type": "array", "items": {"type": "string"}},
                "isStale": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo 接口元信息
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Device Gateway API",
	Description:      "Read-only queries over device identities, live device states and WebSocket connections.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

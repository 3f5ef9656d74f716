// Package docs registers the OpenAPI description of the posd HTTP API with
// swag so that gin-swagger can serve it under /swagger/.
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
        "/devices": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Devices"],
                "summary": "Connected devices",
                "operationId": "listDevices",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/devices.Snapshot"}}
                }
            }
        },
        "/devices/{deviceId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Devices"],
                "summary": "Latest connection of a device",
                "operationId": "getDevice",
                "parameters": [
                    {"type": "string", "description": "Device id", "name": "deviceId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DeviceResponse"}},
                    "404": {"description": "Not connected", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/outlets/{outletId}/devices": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Devices"],
                "summary": "Devices of an outlet",
                "operationId": "listOutletDevices",
                "parameters": [
                    {"type": "string", "description": "Outlet id", "name": "outletId", "in": "path", "required": true},
                    {"type": "string", "description": "Role substring filter", "name": "role", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.OutletDevicesResponse"}}
                }
            }
        },
        "/orders/broadcast": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Orders"],
                "summary": "Route a new order to printers and displays",
                "operationId": "broadcastOrder",
                "parameters": [
                    {"type": "string", "description": "Replay key for retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Order", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/broadcast.OrderEvent"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/broadcast.Summary"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Same key still in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Broadcast failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/workstations/{role}/broadcast": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Orders"],
                "summary": "Message a workstation",
                "operationId": "broadcastToWorkstation",
                "parameters": [
                    {"type": "string", "description": "Role substring", "name": "role", "in": "path", "required": true},
                    {"description": "Message", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.WorkstationBroadcastRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkstationBroadcastResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/calibrations": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Calibrate every menu item",
                "operationId": "calibrateAll",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/calibration.Summary"}},
                    "409": {"description": "Already running", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Run failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/calibrations/selected": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Calibrate the listed menu items",
                "operationId": "calibrateSelected",
                "parameters": [
                    {"description": "Menu item ids", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CalibrateSelectedRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CalibrateSelectedResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/calibrations/{menuItemId}": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Calibrate one menu item",
                "operationId": "calibrateOne",
                "parameters": [
                    {"type": "string", "description": "Menu item id", "name": "menuItemId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/calibration.Result"}},
                    "404": {"description": "Unknown menu item", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already running", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Calibration failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/manual-resets": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Reset negative manual stocks",
                "operationId": "resetManualStocks",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/calibration.BulkResetResult"}},
                    "500": {"description": "Reset failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/locks": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Locks"],
                "summary": "Current lock rows",
                "operationId": "listLocks",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.LocksResponse"}},
                    "500": {"description": "Store error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/locks/cleanup": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Locks"],
                "summary": "Delete expired locks",
                "operationId": "cleanupLocks",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CleanupResponse"}},
                    "500": {"description": "Store error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "broadcast.OrderItem": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "menuItemId": {"type": "string"},
                "name": {"type": "string"},
                "category": {"type": "string", "example": "Beverage"},
                "workstation": {"type": "string"},
                "quantity": {"type": "integer"},
                "price": {"type": "number"},
                "notes": {"type": "string"}
            }
        },
        "broadcast.OrderEvent": {
            "type": "object",
            "required": ["outletId"],
            "properties": {
                "orderId": {"type": "string"},
                "outletId": {"type": "string"},
                "tableNumber": {"type": "string"},
                "orderType": {"type": "string", "example": "dine_in"},
                "source": {"type": "string"},
                "name": {"type": "string"},
                "service": {"type": "string"},
                "orderItems": {"type": "array", "items": {"$ref": "#/definitions/broadcast.OrderItem"}}
            }
        },
        "broadcast.Summary": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "orderId": {"type": "string"},
                "devicesNotified": {"type": "integer"},
                "barDevices": {"type": "integer"},
                "kitchenDevices": {"type": "integer"},
                "otherDevices": {"type": "integer"},
                "beverageItems": {"type": "integer"},
                "kitchenItems": {"type": "integer"},
                "kitchenDeferred": {"type": "boolean"},
                "emitFailures": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "calibration.Result": {
            "type": "object",
            "properties": {
                "menuItemId": {"type": "string"},
                "name": {"type": "string"},
                "calculatedStock": {"type": "integer"},
                "manualStock": {"type": "integer"},
                "previousManualStock": {"type": "integer"},
                "effectiveStock": {"type": "integer"},
                "previousStatus": {"type": "string", "enum": ["active", "inactive"]},
                "currentStatus": {"type": "string", "enum": ["active", "inactive"]},
                "statusChange": {"type": "string", "enum": ["activated", "deactivated"]},
                "manualStockReset": {"type": "boolean"},
                "fallbackUsed": {"type": "boolean"}
            }
        },
        "calibration.Summary": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "processed": {"type": "integer"},
                "succeeded": {"type": "integer"},
                "failed": {"type": "integer"},
                "activated": {"type": "integer"},
                "deactivated": {"type": "integer"},
                "manualResets": {"type": "integer"},
                "fallbacks": {"type": "integer"},
                "durationMs": {"type": "integer"},
                "avgItemMs": {"type": "number"},
                "error": {"type": "string"}
            }
        },
        "calibration.BulkResetResult": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "found": {"type": "integer"},
                "reset": {"type": "integer"},
                "skipped": {"type": "integer"},
                "failed": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "devices.Snapshot": {
            "type": "object",
            "properties": {
                "totalConnected": {"type": "integer"},
                "devices": {"type": "array", "items": {"$ref": "#/definitions/devices.Summary"}}
            }
        },
        "devices.Summary": {
            "type": "object",
            "properties": {
                "connectionId": {"type": "string"},
                "deviceId": {"type": "string"},
                "outletId": {"type": "string"},
                "role": {"type": "string"},
                "deviceName": {"type": "string"},
                "workstation": {"type": "string"},
                "connectedAt": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.DeviceResponse": {
            "type": "object",
            "properties": {
                "connectionId": {"type": "string"},
                "deviceId": {"type": "string"},
                "outletId": {"type": "string"},
                "role": {"type": "string"},
                "location": {"type": "string"},
                "deviceName": {"type": "string"},
                "assignedAreas": {"type": "array", "items": {"type": "string"}},
                "assignedTables": {"type": "array", "items": {"type": "string"}},
                "orderTypes": {"type": "array", "items": {"type": "string"}},
                "sessionId": {"type": "string"},
                "connectedAt": {"type": "string", "format": "date-time"},
                "workstation": {"type": "string", "example": "bar+kitchen"}
            }
        },
        "handlers.OutletDevicesResponse": {
            "type": "object",
            "properties": {
                "outletId": {"type": "string"},
                "role": {"type": "string"},
                "count": {"type": "integer"},
                "devices": {"type": "array", "items": {"$ref": "#/definitions/handlers.DeviceResponse"}}
            }
        },
        "handlers.WorkstationBroadcastRequest": {
            "type": "object",
            "required": ["outletId", "event"],
            "properties": {
                "outletId": {"type": "string"},
                "event": {"type": "string"},
                "data": {"type": "object"}
            }
        },
        "handlers.WorkstationBroadcastResponse": {
            "type": "object",
            "properties": {
                "role": {"type": "string"},
                "outletId": {"type": "string"},
                "delivered": {"type": "integer"}
            }
        },
        "handlers.CalibrateSelectedRequest": {
            "type": "object",
            "required": ["menuItemIds"],
            "properties": {
                "menuItemIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.CalibrateSelectedResponse": {
            "type": "object",
            "properties": {
                "summary": {"$ref": "#/definitions/calibration.Summary"},
                "results": {"type": "array", "items": {"$ref": "#/definitions/calibration.Result"}}
            }
        },
        "handlers.LocksResponse": {
            "type": "object",
            "properties": {
                "locks": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "lock_id": {"type": "string"},
                            "owner": {"type": "string"},
                            "locked_at": {"type": "string", "format": "date-time"},
                            "expires_at": {"type": "string", "format": "date-time"}
                        }
                    }
                }
            }
        },
        "handlers.CleanupResponse": {
            "type": "object",
            "properties": {
                "removed": {"type": "integer"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "POS Coordinator API",
	Description:      "Device registry, order routing to bar and kitchen stations, and stock calibration for restaurant outlets.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "BHEDU Reports API",
        "description": "Attendance reporting with asynchronous CSV export",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Reports", "description": "Attendance reports and export jobs"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/reports/attendance": {
            "get": {
                "tags": ["Reports"],
                "summary": "Attendance report",
                "description": "JSON aggregates, an inline CSV document, or a deferred export job id for oversized CSV requests.",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["json", "csv"], "default": "json"},
                    {"name": "date_from", "in": "query", "type": "string", "format": "date"},
                    {"name": "date_to", "in": "query", "type": "string", "format": "date"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "academic_year_id", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer", "default": 5000, "minimum": 100, "maximum": 10000}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/AttendanceReportResponse"}}
                }
            }
        },
        "/api/v1/reports/jobs/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ExportJobStatusResponse"}},
                    "404": {"description": "Unknown job"}
                }
            }
        },
        "/api/v1/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a completed export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV attachment"},
                    "403": {"description": "Invalid, expired, or premature token"}
                }
            }
        }
    },
    "definitions": {
        "AttendanceReportResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "aggregates": {
                    "type": "object",
                    "additionalProperties": {"type": "integer"}
                },
                "records": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/AttendanceRecord"}
                },
                "note": {"type": "string"}
            }
        },
        "AttendanceRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "date": {"type": "string"},
                "status": {"type": "string", "enum": ["present", "absent", "late", "excused"]},
                "notes": {"type": "string"},
                "student_id": {"type": "string"},
                "student_name": {"type": "string"},
                "class_id": {"type": "string"},
                "class_name": {"type": "string"}
            }
        },
        "DeferredExportResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "jobId": {"type": "string"}
            }
        },
        "ExportJobStatusResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "result_url": {"type": "string"},
                "error": {"type": "string"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

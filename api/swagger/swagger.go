package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Assessment Statistics API",
        "description": "Aggregates assessment scores into regional and per-school statistics documents.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Aggregations", "description": "Aggregation runs and stored documents"},
        {"name": "Batches", "description": "Batch overview, rankings and recalculation"},
        {"name": "Observability", "description": "Metrics and health"}
    ],
    "paths": {
        "/aggregations/{batch}": {
            "get": {
                "tags": ["Aggregations"],
                "summary": "List stored aggregations of a batch",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/aggregations/{batch}/regional": {
            "post": {
                "tags": ["Aggregations"],
                "summary": "Run the regional aggregation of a batch",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Persisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Unknown batch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No score data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Result store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Aggregations"],
                "summary": "Stored regional aggregation",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/aggregations/{batch}/schools/{school}": {
            "post": {
                "tags": ["Aggregations"],
                "summary": "Run the school aggregation of a batch",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"},
                    {"name": "school", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Persisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Unknown batch or school", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No score data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Result store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Aggregations"],
                "summary": "Stored school aggregation",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"},
                    {"name": "school", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/aggregations/{batch}/export": {
            "get": {
                "tags": ["Aggregations"],
                "summary": "Download a stored aggregation",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "school_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Attachment", "schema": {"type": "file"}},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found or exports disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Aggregation not completed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/batches/{batch}/overview": {
            "get": {
                "tags": ["Batches"],
                "summary": "Batch population overview",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Unknown batch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/batches/{batch}/rankings": {
            "get": {
                "tags": ["Batches"],
                "summary": "School rankings of a batch",
                "description": "Without a subject the schools are ranked by their mean score rate across subjects.",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"},
                    {"name": "subject", "in": "query", "type": "string"},
                    {"name": "dimension", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/batches/{batch}/recalculate": {
            "post": {
                "tags": ["Batches"],
                "summary": "Recalculate every aggregation of a batch",
                "parameters": [
                    {"name": "batch", "in": "path", "required": true, "type": "string"},
                    {"name": "wait", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "Inline summary", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "tags": ["Batches"],
                "summary": "Status of a queued recalculation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Service metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
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

// Package design describes the blurcast HTTP API with the goa DSL. The
// transport in internal/services is checked against it by tests.
package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("blurcast", func() {
	Title("Blurcast")
	Description("Real-time background blur for the outbound camera of a call")
	Version("1.0")
	Server("blurcast", func() {
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

// Error types
var NotReadyError = Type("NotReadyError", func() {
	Description("Service is not ready to serve traffic")
	Field(1, "message", String, "Error message")
	Required("message")
})

// Data types
var SurfaceInfo = Type("SurfaceInfo", func() {
	Description("Size of the blurred output raster")
	Field(1, "width", Int, "Width in pixels")
	Field(2, "height", Int, "Height in pixels")
	Required("width", "height")
})

var StatsInfo = Type("StatsInfo", func() {
	Description("Pipeline counters since startup")
	Field(1, "frames_submitted", UInt64)
	Field(2, "submit_errors", UInt64)
	Field(3, "frames_painted", UInt64)
	Field(4, "frames_dropped", UInt64)
	Field(5, "starts", UInt64)
	Field(6, "publishes", UInt64)
	Field(7, "restores", UInt64)
})

var SystemStatus = Type("SystemStatus", func() {
	Description("Overall pipeline status")
	Field(1, "session_id", String, "Pipeline session", func() {
		Format(FormatUUID)
	})
	Field(2, "enabled", Boolean, "Whether blur was requested")
	Field(3, "phase", String, "Pipeline phase", func() {
		Enum("idle", "starting", "running", "stopping")
	})
	Field(4, "camera_stream", String, "Id of the camera stream")
	Field(5, "published_stream", String, "Id of the blurred stream while it is live")
	Field(6, "engine", String, "Segmentation engine in use")
	Field(7, "engines", ArrayOf(String), "Registered segmentation engines")
	Field(8, "surface", SurfaceInfo)
	Field(9, "stats", StatsInfo)
	Field(10, "uptime_seconds", Int)
	Required("session_id", "enabled", "phase", "engine", "engines", "surface", "stats", "uptime_seconds")
})

// Health service for Kubernetes liveness and readiness checks
var _ = Service("health", func() {
	Description("Health check endpoints for Kubernetes")

	Method("healthz", func() {
		Description("Liveness endpoint - indicates if the service is alive")
		Result(Empty)
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness endpoint - indicates if the camera delivers frames")
		Result(Empty)
		Error("not_ready", NotReadyError, "Service is not ready")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("not_ready", StatusServiceUnavailable)
		})
	})
})

// System service
var _ = Service("system", func() {
	Description("Pipeline status and blur toggling")

	Method("status", func() {
		Description("Get overall pipeline status")
		Result(SystemStatus)
		HTTP(func() {
			GET("/api/system/status")
			Response(StatusOK)
		})
	})

	Method("set_blur", func() {
		Description("Request blur on or off; the transition completes asynchronously")
		Payload(func() {
			Field(1, "enabled", Boolean, "Blur the background")
			Required("enabled")
		})
		Result(SystemStatus)
		HTTP(func() {
			PUT("/api/system/blur")
			Response(StatusAccepted)
		})
	})
})

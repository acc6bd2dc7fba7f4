// Package http contains the chi HTTP handlers for the public and
// privileged APIs. Handlers translate wire payloads into domain calls and
// map domain errors back to structured API errors; no business rules live
// here.
package http

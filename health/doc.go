// Package health aggregates component health into a service-level
// status and serves it over HTTP.
//
// Components register with the Monitor; each request polls their
// Health() and rolls the results up: any unhealthy component makes the
// service unhealthy. Error messages are sanitized before they leave
// the process so endpoints never leak URLs, paths or credentials.
package health

// Package middleware provides HTTP middleware for the photo rater.
//
// It includes:
//   - Request logging through the leveled application logger
//   - Prometheus request metrics
//   - Response compression (gzip) for the JSON API
package middleware

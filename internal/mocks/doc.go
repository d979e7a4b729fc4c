// Package mocks provides hand-written test doubles for the service
// interfaces consumed by the admin API. Each mock exposes an Fn field per
// method; when a field is nil the method returns the mock's default values.
package mocks

// Package compute describes remote instances the fleet dispatcher drives.
package compute

import "errors"

// ErrNoPublicAddress is returned when an instance has no reachable public address yet.
var ErrNoPublicAddress = errors.New("instance has no public address")

// Spec describes instances to launch.
type Spec struct {
	ImageID       string
	InstanceType  string
	KeyName       string
	SecurityGroup string
	Count         int
	// Name is applied as the Name tag.
	Name string
}

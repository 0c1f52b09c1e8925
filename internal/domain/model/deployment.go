package model

import "time"

// Deployment records an artifact shipped to an environment. The natural key is
// (RepositoryID, Environment, DeployedAt, CommitHash).
type Deployment struct {
	ID           int64
	RepositoryID int64
	BuildID      *int64 // Latest build with the same commit, when one is stored.
	Environment  string
	DockerImage  string
	CommitHash   string
	DeployedAt   time.Time

	// Populated by reads that join the build.
	BuildNumber *int
}

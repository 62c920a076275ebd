package cbclusterboot

import (
	"time"
)

// ResourceKind classifies the resources a bootstrap tracks.
type ResourceKind string

const (
	ResourceKindCluster     ResourceKind = "cluster"
	ResourceKindServerGroup ResourceKind = "server-group"
	ResourceKindServer      ResourceKind = "server"
	ResourceKindBucket      ResourceKind = "bucket"
)

// ResourceRef identifies one observable resource of a bootstrap.  Refs are
// comparable and used as map keys.
type ResourceRef struct {
	Kind ResourceKind
	Name string
}

func (r ResourceRef) String() string {
	return string(r.Kind) + "/" + r.Name
}

func ClusterResource(name string) ResourceRef {
	return ResourceRef{Kind: ResourceKindCluster, Name: name}
}

func ServerGroupResource(name string) ResourceRef {
	return ResourceRef{Kind: ResourceKindServerGroup, Name: name}
}

func ServerResource(name string) ResourceRef {
	return ResourceRef{Kind: ResourceKindServer, Name: name}
}

func BucketResource(name string) ResourceRef {
	return ResourceRef{Kind: ResourceKindBucket, Name: name}
}

// ResourceState is the lifecycle position of a resource.  Transitions run
// NotStarted, Starting, then Running or FailedToStart, and Running resources
// move through Stopping to Exited.
type ResourceState string

const (
	ResourceStateNotStarted    ResourceState = "not-started"
	ResourceStateStarting      ResourceState = "starting"
	ResourceStateRunning       ResourceState = "running"
	ResourceStateFailedToStart ResourceState = "failed-to-start"
	ResourceStateStopping      ResourceState = "stopping"
	ResourceStateExited        ResourceState = "exited"
)

// IsTerminal indicates whether no further transition can follow the state.
func (s ResourceState) IsTerminal() bool {
	return s == ResourceStateFailedToStart || s == ResourceStateExited
}

// ResourceStateSnapshot is one published observation of a resource.  The
// exit code is only meaningful for terminal states.
type ResourceStateSnapshot struct {
	Resource ResourceRef
	State    ResourceState
	ExitCode int
	At       time.Time
}

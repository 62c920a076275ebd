package clusterdef

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoDataNode indicates that no node in the topology carries the data
	// service, so there is no node the cluster can be initialized through.
	ErrNoDataNode = errors.New("topology contains no data-service node")
)

type Edition string

const (
	EditionUnset      Edition = ""
	EditionEnterprise Edition = "enterprise"
	EditionCommunity  Edition = "community"
)

// Cluster is the declarative definition of a cluster to bootstrap: the
// topology, the provisioning credentials, and the buckets to create once the
// cluster is balanced.  Cluster values are shared by pointer.
type Cluster struct {
	Name     string  `yaml:"name,omitempty"`
	Edition  Edition `yaml:"edition,omitempty"`
	Username string  `yaml:"username,omitempty"`
	Password string  `yaml:"password,omitempty"`

	ServerGroups  []*ServerGroup  `yaml:"server-groups,omitempty"`
	Buckets       []*Bucket       `yaml:"buckets,omitempty"`
	SampleBuckets []*SampleBucket `yaml:"sample-buckets,omitempty"`

	Certificate *CertificateAuthority `yaml:"certificate,omitempty"`

	Settings *ClusterSettings `yaml:"settings,omitempty"`

	// SettingsFn, when set, supersedes Settings and is invoked exactly once,
	// the first time the effective settings are needed.  This lets callers
	// defer settings decisions until the rest of the topology is known.
	SettingsFn func() *ClusterSettings `yaml:"-"`

	resolveOnce      sync.Once
	resolvedSettings *ClusterSettings
}

// ResolveSettings returns the effective cluster settings with defaults
// applied.  The first call binds the settings for the lifetime of the
// definition; SettingsFn is never invoked a second time.
func (c *Cluster) ResolveSettings() *ClusterSettings {
	c.resolveOnce.Do(func() {
		settings := c.Settings
		if c.SettingsFn != nil {
			settings = c.SettingsFn()
		}
		if settings == nil {
			settings = &ClusterSettings{}
		}
		c.resolvedSettings = settings.withDefaults()
	})
	return c.resolvedSettings
}

// IsEnterprise indicates whether enterprise-only initialization fields may
// be sent.  An unset edition is treated as community so that nothing a
// community server would reject is ever submitted by default.
func (c *Cluster) IsEnterprise() bool {
	return c.Edition == EditionEnterprise
}

// Nodes returns every node of the topology in declaration order.
func (c *Cluster) Nodes() []*ServerNode {
	var nodes []*ServerNode
	for _, group := range c.ServerGroups {
		nodes = append(nodes, group.Nodes...)
	}
	return nodes
}

// Primary selects the node used for cluster initialization and all
// subsequent management calls.  The node marked initial is preferred, but
// only while it still carries the data service; otherwise the first
// remaining data-service node takes over.  Call Normalize first so group
// services have been pushed down onto the nodes.
func (c *Cluster) Primary() (*ServerNode, error) {
	var firstDataNode *ServerNode
	for _, node := range c.Nodes() {
		if !node.Services.Has(ServiceData) {
			continue
		}
		if node.Initial {
			return node, nil
		}
		if firstDataNode == nil {
			firstDataNode = node
		}
	}

	if firstDataNode == nil {
		return nil, ErrNoDataNode
	}
	return firstDataNode, nil
}

// Normalize fills in the inherited and derived parts of the definition:
// group services are pushed down onto nodes that declare none, and node
// names default to their hostname.  Normalize is idempotent.
func (c *Cluster) Normalize() {
	for _, group := range c.ServerGroups {
		for _, node := range group.Nodes {
			if node.Services.IsEmpty() {
				node.Services = group.Services
			}
			if node.Name == "" {
				node.Name = node.Hostname
			}
		}
	}
}

// Validate checks the definition for problems that would otherwise only
// surface mid-bootstrap.  It never performs network I/O.
func (c *Cluster) Validate() error {
	if c.Username == "" {
		return errors.New("cluster definition must include a username")
	}
	if c.Password == "" {
		return errors.New("cluster definition must include a password")
	}
	if len(c.ServerGroups) == 0 {
		return errors.New("cluster definition must include at least one server group")
	}

	seenHostnames := make(map[string]bool)
	numInitial := 0
	for _, group := range c.ServerGroups {
		if len(group.Nodes) == 0 {
			return fmt.Errorf("server group `%s` contains no nodes", group.Name)
		}
		for _, node := range group.Nodes {
			if node.Hostname == "" {
				return fmt.Errorf("node `%s` in group `%s` has no hostname", node.Name, group.Name)
			}
			if seenHostnames[node.Hostname] {
				return fmt.Errorf("hostname `%s` is declared more than once", node.Hostname)
			}
			seenHostnames[node.Hostname] = true
			if node.Services.IsEmpty() {
				return fmt.Errorf("node `%s` has no services", node.Hostname)
			}
			if node.Initial {
				numInitial++
			}
			if err := node.validateEndpoints(); err != nil {
				return err
			}
		}
	}
	if numInitial > 1 {
		return errors.New("more than one node is marked initial")
	}

	if _, err := c.Primary(); err != nil {
		return err
	}

	seenBuckets := make(map[string]bool)
	for _, bucket := range c.Buckets {
		if bucket.Name == "" {
			return errors.New("bucket definitions must include a name")
		}
		if seenBuckets[bucket.Name] {
			return fmt.Errorf("bucket `%s` is declared more than once", bucket.Name)
		}
		seenBuckets[bucket.Name] = true

		if err := bucket.validate(); err != nil {
			return err
		}
	}
	for _, sample := range c.SampleBuckets {
		if sample.Name == "" {
			return errors.New("sample bucket definitions must include a name")
		}
		if seenBuckets[sample.Name] {
			return fmt.Errorf("bucket `%s` is declared more than once", sample.Name)
		}
		seenBuckets[sample.Name] = true
	}

	return nil
}

// ServerGroup is a named set of nodes sharing a default service assignment.
type ServerGroup struct {
	Name     string        `yaml:"name,omitempty"`
	Services ServiceSet    `yaml:"services,omitempty"`
	Nodes    []*ServerNode `yaml:"nodes,omitempty"`
}

// ServerNode is a single server in the topology.  Hostname is the address
// the cluster reaches the node on internally; Endpoints optionally declare
// how the node is reached from outside the cluster network.
type ServerNode struct {
	Name     string     `yaml:"name,omitempty"`
	Hostname string     `yaml:"hostname"`
	Services ServiceSet `yaml:"services,omitempty"`

	// Initial marks the node the cluster was first initialized on.  At most
	// one node carries the mark; it steers primary selection and join-skip
	// detection.
	Initial bool `yaml:"initial,omitempty"`

	Endpoints []Endpoint `yaml:"endpoints,omitempty"`
}

// HasEndpoints indicates whether the node declares an external address
// mapping that should be published as alternate addresses.
func (n *ServerNode) HasEndpoints() bool {
	return len(n.Endpoints) > 0
}

// Endpoint looks up a declared endpoint by name.
func (n *ServerNode) Endpoint(name string) (Endpoint, bool) {
	for _, ep := range n.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// ExternalHostname returns the host the node's endpoints are reachable on,
// or an empty string when the node declares none.  All endpoints of a node
// share a single external host.
func (n *ServerNode) ExternalHostname() string {
	if len(n.Endpoints) == 0 {
		return ""
	}
	return n.Endpoints[0].Host
}

func (n *ServerNode) validateEndpoints() error {
	seen := make(map[string]bool)
	for _, ep := range n.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("node `%s` declares an endpoint with no name", n.Hostname)
		}
		if seen[ep.Name] {
			return fmt.Errorf("node `%s` declares endpoint `%s` more than once", n.Hostname, ep.Name)
		}
		seen[ep.Name] = true
		if ep.Host == "" {
			return fmt.Errorf("endpoint `%s` of node `%s` has no host", ep.Name, n.Hostname)
		}
		if ep.Port == 0 {
			return fmt.Errorf("endpoint `%s` of node `%s` has no port", ep.Name, n.Hostname)
		}

		// the server publishes a single alternate host per node
		if ep.Host != n.Endpoints[0].Host {
			return fmt.Errorf("node `%s` declares endpoints on differing hosts", n.Hostname)
		}
	}
	return nil
}

// Endpoint is an externally reachable address for one service of a node.
type Endpoint struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// Endpoint names recognized in node definitions.
const (
	EndpointManagement       = "management"
	EndpointManagementSecure = "management-secure"
	EndpointData             = "data"
	EndpointDataSecure       = "data-secure"
	EndpointViews            = "views"
	EndpointViewsSecure      = "views-secure"
	EndpointQuery            = "query"
	EndpointQuerySecure      = "query-secure"
	EndpointSearch           = "search"
	EndpointSearchSecure     = "search-secure"
	EndpointAnalytics        = "analytics"
	EndpointAnalyticsSecure  = "analytics-secure"
	EndpointEventing         = "eventing"
	EndpointEventingSecure   = "eventing-secure"
	EndpointEventingDebug    = "eventing-debug"
	EndpointBackup           = "backup"
	EndpointBackupSecure     = "backup-secure"
)

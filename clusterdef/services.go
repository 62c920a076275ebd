package clusterdef

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServiceSet is a bitmask of the Couchbase services enabled on a node or
// server group.  The zero value means "no services declared" and inherits
// from the enclosing group during normalization.
type ServiceSet uint32

const (
	ServiceData ServiceSet = 1 << iota
	ServiceQuery
	ServiceIndex
	ServiceSearch
	ServiceAnalytics
	ServiceEventing
	ServiceBackup
)

// serviceOrder fixes the order services are rendered in, both for YAML
// round-tripping and the wire encoding sent to ns_server.
var serviceOrder = []ServiceSet{
	ServiceData,
	ServiceQuery,
	ServiceIndex,
	ServiceSearch,
	ServiceAnalytics,
	ServiceEventing,
	ServiceBackup,
}

var serviceNames = map[ServiceSet]string{
	ServiceData:      "data",
	ServiceQuery:     "query",
	ServiceIndex:     "index",
	ServiceSearch:    "search",
	ServiceAnalytics: "analytics",
	ServiceEventing:  "eventing",
	ServiceBackup:    "backup",
}

// serviceMgmtNames maps each service to the identifier ns_server expects in
// the services parameter of clusterInit and addNode.
var serviceMgmtNames = map[ServiceSet]string{
	ServiceData:      "kv",
	ServiceQuery:     "n1ql",
	ServiceIndex:     "index",
	ServiceSearch:    "fts",
	ServiceAnalytics: "cbas",
	ServiceEventing:  "eventing",
	ServiceBackup:    "backup",
}

// ParseService translates a single declared service name into its flag.
func ParseService(name string) (ServiceSet, error) {
	for svc, svcName := range serviceNames {
		if svcName == name {
			return svc, nil
		}
	}
	return 0, fmt.Errorf("unknown service name `%s`", name)
}

// Has indicates whether every service in svcs is present in the set.
func (s ServiceSet) Has(svcs ServiceSet) bool {
	return s&svcs == svcs
}

// With returns the set with the given services added.
func (s ServiceSet) With(svcs ServiceSet) ServiceSet {
	return s | svcs
}

// IsEmpty indicates whether no services are declared.
func (s ServiceSet) IsEmpty() bool {
	return s == 0
}

// Names returns the declared service names in canonical order.
func (s ServiceSet) Names() []string {
	var names []string
	for _, svc := range serviceOrder {
		if s.Has(svc) {
			names = append(names, serviceNames[svc])
		}
	}
	return names
}

// MgmtStrings returns the ns_server identifiers for the set in canonical
// order, suitable for the services field of clusterInit and addNode.
func (s ServiceSet) MgmtStrings() []string {
	var names []string
	for _, svc := range serviceOrder {
		if s.Has(svc) {
			names = append(names, serviceMgmtNames[svc])
		}
	}
	return names
}

func (s ServiceSet) String() string {
	return strings.Join(s.Names(), ",")
}

func (s ServiceSet) MarshalYAML() (interface{}, error) {
	return s.Names(), nil
}

func (s *ServiceSet) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	if err := value.Decode(&names); err != nil {
		return err
	}

	var set ServiceSet
	for _, name := range names {
		svc, err := ParseService(name)
		if err != nil {
			return err
		}
		set = set.With(svc)
	}

	*s = set
	return nil
}

package clusterdef

const (
	// DefaultMgmtPort and DefaultMgmtTLSPort are the standard ns_server
	// management ports, used whenever the settings carry no override.
	DefaultMgmtPort    = 8091
	DefaultMgmtTLSPort = 18091

	// DefaultMemoryQuotaMB is applied to every per-service quota that is
	// left unset.
	DefaultMemoryQuotaMB = 1024
)

type IndexStorageMode string

const (
	IndexStorageModeUnset           IndexStorageMode = ""
	IndexStorageModePlasma          IndexStorageMode = "plasma"
	IndexStorageModeMemoryOptimized IndexStorageMode = "memory_optimized"
	IndexStorageModeForestDB        IndexStorageMode = "forestdb"
)

// ClusterSettings carries the knobs consumed during cluster initialization.
// Quotas left at zero are filled with DefaultMemoryQuotaMB, ports left at
// zero with the standard management ports.
type ClusterSettings struct {
	MemoryQuotaMB          uint64 `yaml:"kv-memory,omitempty"`
	QueryMemoryQuotaMB     uint64 `yaml:"query-memory,omitempty"`
	IndexMemoryQuotaMB     uint64 `yaml:"index-memory,omitempty"`
	FtsMemoryQuotaMB       uint64 `yaml:"fts-memory,omitempty"`
	AnalyticsMemoryQuotaMB uint64 `yaml:"analytics-memory,omitempty"`
	EventingMemoryQuotaMB  uint64 `yaml:"eventing-memory,omitempty"`

	// IndexStorageMode left unset resolves to an edition-appropriate mode
	// at initialization time.
	IndexStorageMode IndexStorageMode `yaml:"index-storage-mode,omitempty"`

	MgmtPort    uint16 `yaml:"mgmt-port,omitempty"`
	MgmtTLSPort uint16 `yaml:"mgmt-tls-port,omitempty"`

	// NodeToNodeEncryption is enterprise-only and ignored for community
	// edition clusters.
	NodeToNodeEncryption bool `yaml:"node-to-node-encryption,omitempty"`
}

// DefaultClusterSettings returns settings with every quota at its default.
func DefaultClusterSettings() *ClusterSettings {
	return (&ClusterSettings{}).withDefaults()
}

func (s *ClusterSettings) withDefaults() *ClusterSettings {
	out := *s
	if out.MemoryQuotaMB == 0 {
		out.MemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.QueryMemoryQuotaMB == 0 {
		out.QueryMemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.IndexMemoryQuotaMB == 0 {
		out.IndexMemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.FtsMemoryQuotaMB == 0 {
		out.FtsMemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.AnalyticsMemoryQuotaMB == 0 {
		out.AnalyticsMemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.EventingMemoryQuotaMB == 0 {
		out.EventingMemoryQuotaMB = DefaultMemoryQuotaMB
	}
	if out.MgmtPort == 0 {
		out.MgmtPort = DefaultMgmtPort
	}
	if out.MgmtTLSPort == 0 {
		out.MgmtTLSPort = DefaultMgmtTLSPort
	}
	return &out
}

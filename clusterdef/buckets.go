package clusterdef

import (
	"fmt"
)

const (
	// DefaultBucketRAMQuotaMB is applied to buckets declaring no quota.
	DefaultBucketRAMQuotaMB = 100
)

type BucketType string

const (
	BucketTypeUnset     BucketType = ""
	BucketTypeCouchbase BucketType = "couchbase"
	BucketTypeEphemeral BucketType = "ephemeral"
	BucketTypeMemcached BucketType = "memcached"
)

// Bucket declares a bucket to create once the cluster is running.  Optional
// fields left nil are omitted from the creation request so the server picks
// its own defaults.
type Bucket struct {
	Name       string     `yaml:"name"`
	Type       BucketType `yaml:"type,omitempty"`
	RAMQuotaMB uint64     `yaml:"ram-quota,omitempty"`

	NumReplicas        *uint32 `yaml:"num-replicas,omitempty"`
	FlushEnabled       *bool   `yaml:"flush-enabled,omitempty"`
	StorageBackend     *string `yaml:"storage-backend,omitempty"`
	CompressionMode    *string `yaml:"compression-mode,omitempty"`
	ConflictResolution *string `yaml:"conflict-resolution,omitempty"`
	DurabilityMinLevel *string `yaml:"durability-min-level,omitempty"`
	EvictionPolicy     *string `yaml:"eviction-policy,omitempty"`
	MaxTTL             *uint32 `yaml:"max-ttl,omitempty"`

	Scopes []*Scope `yaml:"scopes,omitempty"`
}

// EffectiveRAMQuotaMB returns the declared quota, or the default when the
// declaration left it at zero.
func (b *Bucket) EffectiveRAMQuotaMB() uint64 {
	if b.RAMQuotaMB == 0 {
		return DefaultBucketRAMQuotaMB
	}
	return b.RAMQuotaMB
}

func (b *Bucket) validate() error {
	switch b.Type {
	case BucketTypeUnset, BucketTypeCouchbase, BucketTypeEphemeral, BucketTypeMemcached:
	default:
		return fmt.Errorf("bucket `%s` has unknown type `%s`", b.Name, b.Type)
	}

	seenScopes := make(map[string]bool)
	for _, scope := range b.Scopes {
		if scope.Name == "" {
			return fmt.Errorf("bucket `%s` declares a scope with no name", b.Name)
		}
		if seenScopes[scope.Name] {
			return fmt.Errorf("bucket `%s` declares scope `%s` more than once", b.Name, scope.Name)
		}
		seenScopes[scope.Name] = true

		seenCollections := make(map[string]bool)
		for _, coll := range scope.Collections {
			if coll.Name == "" {
				return fmt.Errorf("scope `%s` of bucket `%s` declares a collection with no name",
					scope.Name, b.Name)
			}
			if seenCollections[coll.Name] {
				return fmt.Errorf("scope `%s` of bucket `%s` declares collection `%s` more than once",
					scope.Name, b.Name, coll.Name)
			}
			seenCollections[coll.Name] = true
		}
	}

	return nil
}

// Scope declares a scope to ensure inside a bucket, along with the
// collections it should hold.
type Scope struct {
	Name        string        `yaml:"name"`
	Collections []*Collection `yaml:"collections,omitempty"`
}

type Collection struct {
	Name string `yaml:"name"`

	// MaxTTLSecs of zero inherits the bucket expiry.
	MaxTTLSecs uint32 `yaml:"max-ttl,omitempty"`
}

// SampleBucket declares one of the server's sample datasets to load.  It
// differs from a Bucket only in how it is provisioned; the server owns all
// of its settings.
type SampleBucket struct {
	Name string `yaml:"name"`
}

package cbmgmtx

import (
	"errors"
	"fmt"
	"net/url"
)

type EvictionPolicyType string

const (
	EvictionPolicyTypeUnset           EvictionPolicyType = ""
	EvictionPolicyTypeFull            EvictionPolicyType = "fullEviction"
	EvictionPolicyTypeValueOnly       EvictionPolicyType = "valueOnly"
	EvictionPolicyTypeNotRecentlyUsed EvictionPolicyType = "nruEviction"
	EvictionPolicyTypeNoEviction      EvictionPolicyType = "noEviction"
)

type CompressionMode string

const (
	CompressionModeUnset   CompressionMode = ""
	CompressionModeOff     CompressionMode = "off"
	CompressionModePassive CompressionMode = "passive"
	CompressionModeActive  CompressionMode = "active"
)

type DurabilityLevel string

const (
	DurabilityLevelUnset                      DurabilityLevel = ""
	DurabilityLevelNone                       DurabilityLevel = "none"
	DurabilityLevelMajority                   DurabilityLevel = "majority"
	DurabilityLevelMajorityAndPersistOnMaster DurabilityLevel = "majorityAndPersistActive"
	DurabilityLevelPersistToMajority          DurabilityLevel = "persistToMajority"
)

type MutableBucketSettings struct {
	RAMQuotaMB         uint64
	FlushEnabled       bool
	ReplicaNumber      uint32
	MaxTTL             uint32
	EvictionPolicy     EvictionPolicyType
	CompressionMode    CompressionMode
	DurabilityMinLevel DurabilityLevel
}

func encodeMutableBucketSettings(posts url.Values, opts *MutableBucketSettings) error {
	if opts.RAMQuotaMB > 0 {
		posts.Add("ramQuotaMB", fmt.Sprintf("%d", opts.RAMQuotaMB))
	}
	if opts.FlushEnabled {
		posts.Add("flushEnabled", "1")
	} else {
		posts.Add("flushEnabled", "0")
	}
	posts.Add("replicaNumber", fmt.Sprintf("%d", opts.ReplicaNumber))
	if opts.MaxTTL > 0 {
		posts.Add("maxTTL", fmt.Sprintf("%d", opts.MaxTTL))
	}
	if opts.EvictionPolicy != EvictionPolicyTypeUnset {
		posts.Add("evictionPolicy", string(opts.EvictionPolicy))
	}
	if opts.CompressionMode != CompressionModeUnset {
		posts.Add("compressionMode", string(opts.CompressionMode))
	}
	if opts.DurabilityMinLevel != DurabilityLevelUnset {
		posts.Add("durabilityMinLevel", string(opts.DurabilityMinLevel))
	}

	return nil
}

type ConflictResolutionType string

const (
	ConflictResolutionTypeUnset          ConflictResolutionType = ""
	ConflictResolutionTypeTimestamp      ConflictResolutionType = "lww"
	ConflictResolutionTypeSequenceNumber ConflictResolutionType = "seqno"
	ConflictResolutionTypeCustom         ConflictResolutionType = "custom"
)

type BucketType string

const (
	BucketTypeUnset BucketType = ""
	// membase is the wire name couchbase buckets have kept since the
	// pre-merger days.
	BucketTypeCouchbase BucketType = "membase"
	BucketTypeMemcached BucketType = "memcached"
	BucketTypeEphemeral BucketType = "ephemeral"
)

type StorageBackend string

const (
	StorageBackendUnset      StorageBackend = ""
	StorageBackendCouchstore StorageBackend = "couchstore"
	StorageBackendMagma      StorageBackend = "magma"
)

type BucketSettings struct {
	MutableBucketSettings
	ConflictResolutionType ConflictResolutionType
	ReplicaIndex           bool
	BucketType             BucketType
	StorageBackend         StorageBackend
}

func encodeBucketSettings(posts url.Values, opts *BucketSettings) error {
	err := encodeMutableBucketSettings(posts, &opts.MutableBucketSettings)
	if err != nil {
		return err
	}

	if opts.ConflictResolutionType != ConflictResolutionTypeUnset {
		posts.Add("conflictResolutionType", string(opts.ConflictResolutionType))
	}
	if opts.BucketType != BucketTypeUnset {
		posts.Add("bucketType", string(opts.BucketType))
	}
	if opts.StorageBackend != StorageBackendUnset {
		posts.Add("storageBackend", string(opts.StorageBackend))
	}

	// replica indexes are only supported by couchbase buckets
	if opts.BucketType == BucketTypeCouchbase {
		if opts.ReplicaIndex {
			posts.Add("replicaIndex", "1")
		} else {
			posts.Add("replicaIndex", "0")
		}
	}

	return nil
}

type BucketDef struct {
	BucketName string
	BucketUUID string
	BucketSettings

	// NodeStatuses carries the health of every node currently serving the
	// bucket, as reported by the bucket config.
	NodeStatuses []string
}

// AllNodesHealthy indicates whether every node serving the bucket reports
// itself healthy.  A bucket with no nodes yet is not considered healthy.
func (d BucketDef) AllNodesHealthy() bool {
	if len(d.NodeStatuses) == 0 {
		return false
	}
	for _, status := range d.NodeStatuses {
		if status != "healthy" {
			return false
		}
	}
	return true
}

func bucketDefFromJson(bucket bucketSettingsJson) (*BucketDef, error) {
	if bucket.Name == "" {
		return nil, errors.New("bucket config contained no name")
	}

	def := &BucketDef{
		BucketName: bucket.Name,
		BucketUUID: bucket.UUID,
		BucketSettings: BucketSettings{
			MutableBucketSettings: MutableBucketSettings{
				RAMQuotaMB:         bucket.Quota.RawRAM / 1024 / 1024,
				FlushEnabled:       bucket.Controllers.Flush != "",
				ReplicaNumber:      bucket.ReplicaNumber,
				MaxTTL:             bucket.MaxTTL,
				EvictionPolicy:     EvictionPolicyType(bucket.EvictionPolicy),
				CompressionMode:    CompressionMode(bucket.CompressionMode),
				DurabilityMinLevel: DurabilityLevel(bucket.MinimumDurabilityLevel),
			},
			ConflictResolutionType: ConflictResolutionType(bucket.ConflictResolutionType),
			ReplicaIndex:           bucket.ReplicaIndex,
			BucketType:             BucketType(bucket.BucketType),
			StorageBackend:         StorageBackend(bucket.StorageBackend),
		},
	}

	for _, node := range bucket.Nodes {
		def.NodeStatuses = append(def.NodeStatuses, node.Status)
	}

	return def, nil
}

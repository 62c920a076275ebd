package cbconfig

// Wire structures for the ns_server configuration payloads the bootstrap
// tooling consumes. Field names mirror the REST responses exactly.

type FullNodeJson struct {
	Status            string                                  `json:"status,omitempty"`
	ClusterMembership string                                  `json:"clusterMembership,omitempty"`
	ThisNode          bool                                    `json:"thisNode,omitempty"`
	Hostname          string                                  `json:"hostname,omitempty"`
	NodeUUID          string                                  `json:"nodeUUID,omitempty"`
	OTPNode           string                                  `json:"otpNode,omitempty"`
	Version           string                                  `json:"version,omitempty"`
	Ports             map[string]int                          `json:"ports,omitempty"`
	Services          []string                                `json:"services"`
	AltAddresses      map[string]TerseExtNodeAltAddressesJson `json:"alternateAddresses,omitempty"`
}

type FullClusterConfigJson struct {
	Name  string         `json:"name,omitempty"`
	Nodes []FullNodeJson `json:"nodes,omitempty"`
}

type TerseExtNodePortsJson struct {
	Kv          uint16 `json:"kv,omitempty"`
	Capi        uint16 `json:"capi,omitempty"`
	Mgmt        uint16 `json:"mgmt,omitempty"`
	N1ql        uint16 `json:"n1ql,omitempty"`
	Fts         uint16 `json:"fts,omitempty"`
	Cbas        uint16 `json:"cbas,omitempty"`
	Eventing    uint16 `json:"eventingAdminPort,omitempty"`
	GSI         uint16 `json:"indexHttp,omitempty"`
	Backup      uint16 `json:"backupAPI,omitempty"`
	KvSsl       uint16 `json:"kvSSL,omitempty"`
	CapiSsl     uint16 `json:"capiSSL,omitempty"`
	MgmtSsl     uint16 `json:"mgmtSSL,omitempty"`
	N1qlSsl     uint16 `json:"n1qlSSL,omitempty"`
	FtsSsl      uint16 `json:"ftsSSL,omitempty"`
	CbasSsl     uint16 `json:"cbasSSL,omitempty"`
	EventingSsl uint16 `json:"eventingSSL,omitempty"`
	GSISsl      uint16 `json:"indexHttps,omitempty"`
	BackupSsl   uint16 `json:"backupAPIHTTPS,omitempty"`
}

type TerseExtNodeAltAddressesJson struct {
	Ports    *TerseExtNodePortsJson `json:"ports,omitempty"`
	Hostname string                 `json:"hostname,omitempty"`
}

type TerseExtNodeJson struct {
	Services     *TerseExtNodePortsJson                  `json:"services,omitempty"`
	ThisNode     bool                                    `json:"thisNode,omitempty"`
	Hostname     string                                  `json:"hostname,omitempty"`
	AltAddresses map[string]TerseExtNodeAltAddressesJson `json:"alternateAddresses,omitempty"`
}

type TerseConfigJson struct {
	Rev      int                `json:"rev,omitempty"`
	RevEpoch int                `json:"revEpoch,omitempty"`
	Name     string             `json:"name,omitempty"`
	UUID     string             `json:"uuid,omitempty"`
	NodesExt []TerseExtNodeJson `json:"nodesExt,omitempty"`
}

package clusterdef

import (
	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML cluster definition.  The result is normalized but
// not validated; callers decide when Validate runs relative to their own
// defaulting.
func Parse(data []byte) (*Cluster, error) {
	var def Cluster
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}

	def.Normalize()
	return &def, nil
}

// Save encodes a cluster definition back to YAML.  Late-bound settings are
// not representable; resolve them into Settings first if they must survive
// the round trip.
func Save(def *Cluster) ([]byte, error) {
	return yaml.Marshal(def)
}

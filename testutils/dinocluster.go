package testutils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/contrib/dinoctl"
	"github.com/couchbaselabs/cbclusterboot/contrib/ptr"
)

func SkipIfNoDinoCluster(t *testing.T) {
	// skipping if no dinocluster implies skipping if short test
	SkipIfShortTest(t)

	if TestOpts.DinoClusterID == "" {
		t.Skip("skipping due to no dino cluster id")
	}
}

func getDinoCtl(t *testing.T) dinoctl.DinoCtl {
	return dinoctl.DinoCtl{
		Logger:    MakeTestLogger(t),
		LogOutput: true,
	}
}

func RunGenericDinoCmd(t *testing.T, args []string) {
	_, err := getDinoCtl(t).Exec(args)
	require.NoError(t, err)
}

// DinoController drives chaos testing against a cbdinocluster-managed
// cluster, keeping track of what it broke so cleanup can restore it.
type DinoController struct {
	t             *testing.T
	dino          dinoctl.DinoCtl
	oldFoSettings *cbmgmtx.AutoFailoverSettingsJson
	addedNodes    []string
	blockedNodes  []string
}

func StartDinoTesting(t *testing.T, disableAutoFailover bool) *DinoController {
	if TestOpts.DinoClusterID == "" {
		t.Error("cannot start dino testing without dino configured")
	}

	c := &DinoController{
		t:    t,
		dino: getDinoCtl(t),
	}
	t.Cleanup(c.cleanup)

	if disableAutoFailover {
		c.DisableAutoFailover()
	}

	return c
}

func (c *DinoController) cleanup() {
	blockedNodes := c.blockedNodes
	c.blockedNodes = nil
	for _, node := range blockedNodes {
		err := c.dino.ChaosAllowTraffic(TestOpts.DinoClusterID, node)
		if err != nil {
			c.t.Errorf("failed to reset traffic control for %s", node)
		}
	}

	addedNodes := c.addedNodes
	c.addedNodes = nil
	for _, node := range addedNodes {
		err := c.dino.NodesRemove(TestOpts.DinoClusterID, node)
		if err != nil {
			c.t.Errorf("failed to remove node %s", node)
		}
	}

	c.EnableAutoFailover()
}

func (c *DinoController) DisableAutoFailover() {
	settings, err := getTestMgmt().GetAutoFailoverSettings(context.Background(), &cbmgmtx.GetAutoFailoverSettingsOptions{})
	require.NoError(c.t, err)
	c.oldFoSettings = settings

	err = getTestMgmt().ConfigureAutoFailover(context.Background(), &cbmgmtx.ConfigureAutoFailoverOptions{
		Enabled: ptr.To(false),
	})
	require.NoError(c.t, err)
}

func (c *DinoController) EnableAutoFailover() {
	if c.oldFoSettings == nil {
		return
	}

	err := getTestMgmt().ConfigureAutoFailover(context.Background(), &cbmgmtx.ConfigureAutoFailoverOptions{
		Enabled: ptr.To(c.oldFoSettings.Enabled),
		Timeout: ptr.To(c.oldFoSettings.Timeout),
	})
	require.NoError(c.t, err)
	c.oldFoSettings = nil
}

func (c *DinoController) BlockNodeTraffic(node string) {
	c.blockedNodes = append(c.blockedNodes, node)
	err := c.dino.ChaosBlockTraffic(TestOpts.DinoClusterID, node, "")
	require.NoError(c.t, err)
}

func (c *DinoController) BlockAllTraffic(node string) {
	c.blockedNodes = append(c.blockedNodes, node)
	err := c.dino.ChaosBlockTraffic(TestOpts.DinoClusterID, node, "all")
	require.NoError(c.t, err)
}

func (c *DinoController) AllowTraffic(node string) {
	err := c.dino.ChaosAllowTraffic(TestOpts.DinoClusterID, node)
	require.NoError(c.t, err)
	hostIdx := slices.Index(c.blockedNodes, node)
	if hostIdx >= 0 {
		c.blockedNodes = slices.Delete(c.blockedNodes, hostIdx, hostIdx+1)
	}
}

func (c *DinoController) AddNode() string {
	nodeID, err := c.dino.NodesAdd(TestOpts.DinoClusterID)
	require.NoError(c.t, err)
	c.addedNodes = append(c.addedNodes, nodeID)
	return nodeID
}

func (c *DinoController) RemoveNode(node string) {
	err := c.dino.NodesRemove(TestOpts.DinoClusterID, node)
	require.NoError(c.t, err)
	nodeIdx := slices.Index(c.addedNodes, node)
	if nodeIdx >= 0 {
		c.addedNodes = slices.Delete(c.addedNodes, nodeIdx, nodeIdx+1)
	}
}

func (c *DinoController) GetNodeIP(node string) string {
	ip, err := c.dino.Ip(TestOpts.DinoClusterID, node)
	require.NoError(c.t, err)
	return ip
}

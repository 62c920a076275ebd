package clusterdef

import (
	"errors"
	"strings"
)

// CertificateProvider yields the CA material newly provisioned nodes are
// told to trust.
type CertificateProvider interface {
	CACertPEM() ([]byte, error)
}

// CertificateAuthority is a PEM encoded CA certificate plus any
// intermediates needed to complete its chain.
type CertificateAuthority struct {
	CertPEM  string   `yaml:"cert"`
	ChainPEM []string `yaml:"chain,omitempty"`
}

var _ CertificateProvider = (*CertificateAuthority)(nil)

// CACertPEM returns the certificate followed by its chain as one PEM
// document, the form loadTrustedCAs accepts.
func (a *CertificateAuthority) CACertPEM() ([]byte, error) {
	if a == nil || a.CertPEM == "" {
		return nil, errors.New("no ca certificate configured")
	}

	var sb strings.Builder
	writePem := func(block string) {
		sb.WriteString(strings.TrimSpace(block))
		sb.WriteString("\n")
	}

	writePem(a.CertPEM)
	for _, block := range a.ChainPEM {
		writePem(block)
	}

	return []byte(sb.String()), nil
}

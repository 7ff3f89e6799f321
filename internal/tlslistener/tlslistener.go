// Package tlslistener wraps a TCP listener with a hot-reloadable TLS
// certificate, for the RTMPS port, using the certificate loader the teacher's
// own dependency list already carries.
package tlslistener

import (
	"crypto/tls"
	"net"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
)

// Listen dials a TLS listener on addr backed by certFile/keyFile, reloading
// the key pair automatically whenever it changes on disk (checked every
// checkIntervalSeconds), without requiring a listener restart.
func Listen(addr, certFile, keyFile string, checkIntervalSeconds int) (net.Listener, error) {
	loader, err := certloader.NewCertificateLoader(certFile, keyFile, checkIntervalSeconds)
	if err != nil {
		return nil, err
	}

	go loader.RunReloadThread()

	cfg := &tls.Config{
		GetCertificate: loader.GetCertificateFunc(),
	}

	return tls.Listen("tcp", addr, cfg)
}

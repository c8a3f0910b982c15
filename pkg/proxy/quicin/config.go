// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

const derExtension = ".der"

const (
	// maxIncomingStreams bounds the concurrent bidirectional streams each
	// connection may open towards us.
	maxIncomingStreams = 64

	// maxIdleTimeout closes connections after 300 000 ms without activity.
	maxIdleTimeout = 300 * time.Second
)

// Handler accepts QUIC connections on datagram sockets passed to Handle.
// The TLS identity and the transport parameters are built once at
// construction and shared by every endpoint afterwards.
type Handler struct {
	tlsConf  *tls.Config
	quicConf *quic.Config

	certFile string
	keyFile  string

	reloader *certReloader
}

// NewHandler builds the server identity from a certificate file and a key
// file and registers the application protocols for negotiation in the given
// order. No client certificates are requested. All file and parse errors
// surface here, once, and are not retried.
func NewHandler(certFile, keyFile string, alpns []string) (*Handler, error) {
	identity, err := loadIdentity(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	nextProtos := make([]string, len(alpns))
	copy(nextProtos, alpns)

	return &Handler{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{*identity},
			NextProtos:   nextProtos,
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: newTransportConfig(),
		certFile: certFile,
		keyFile:  keyFile,
	}, nil
}

// newTransportConfig returns the fixed transport parameters every
// connection runs under. The congestion controller is the engine's own;
// quic-go offers no selection surface.
func newTransportConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:     maxIdleTimeout,
		MaxIncomingStreams: maxIncomingStreams,
		EnableDatagrams:    false,
	}
}

// loadIdentity combines the certificate chain and the private key into the
// server's TLS identity.
func loadIdentity(certFile, keyFile string) (*tls.Certificate, error) {
	chain, err := loadCertificates(certFile)
	if err != nil {
		return nil, err
	}

	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
	}, nil
}

// loadCertificates reads the server's certificate chain. A .der file holds
// exactly one binary certificate; everything else is treated as a PEM
// sequence whose certificate blocks all become part of the chain, in file
// order.
func loadCertificates(certFile string) ([][]byte, error) {
	raw, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	var chain [][]byte
	if strings.EqualFold(filepath.Ext(certFile), derExtension) {
		chain = [][]byte{raw}
	} else {
		for block, rest := pem.Decode(raw); block != nil; block, rest = pem.Decode(rest) {
			if block.Type == "CERTIFICATE" {
				chain = append(chain, block.Bytes)
			}
		}
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}

	for i, der := range chain {
		if _, err := x509.ParseCertificate(der); err != nil {
			return nil, fmt.Errorf("parsing certificate %d of %s: %w", i, certFile, err)
		}
	}

	return chain, nil
}

// loadPrivateKey reads the server's private key. A .der file holds one
// binary key of whatever algorithm. Everything else is treated as PEM and
// tried in fixed order: a PKCS#8 container first, then a PKCS#1 RSA key,
// then a SEC 1 EC key; the first block found wins.
func loadPrivateKey(keyFile string) (crypto.PrivateKey, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(keyFile), derExtension) {
		key, err := parseDERKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", keyFile, err)
		}
		return key, nil
	}

	blocks := make(map[string][]byte)
	for block, rest := pem.Decode(raw); block != nil; block, rest = pem.Decode(rest) {
		if _, exists := blocks[block.Type]; !exists {
			blocks[block.Type] = block.Bytes
		}
	}

	if der, exists := blocks["PRIVATE KEY"]; exists {
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 key of %s: %w", keyFile, err)
		}
		return key, nil
	}
	if der, exists := blocks["RSA PRIVATE KEY"]; exists {
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing RSA key of %s: %w", keyFile, err)
		}
		return key, nil
	}
	if der, exists := blocks["EC PRIVATE KEY"]; exists {
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing EC key of %s: %w", keyFile, err)
		}
		return key, nil
	}

	return nil, fmt.Errorf("no private keys found in %s", keyFile)
}

// parseDERKey tries the known binary key encodings in the same order as the
// PEM path.
func parseDERKey(raw []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(raw); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(raw); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(raw); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("no parseable private key")
}
